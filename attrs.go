package gosftp

// Attributes is the all-optional attribute record from spec.md section 3.
// Every field is a pointer so presence is distinguishable from a zero value;
// UID/GID travel as a pair and so do ATime/MTime, matching the paired
// SSH_FILEXFER_ATTR_UIDGID / SSH_FILEXFER_ATTR_ACMODTIME flags.
type Attributes struct {
	Size        *uint64
	UID         *uint32
	GID         *uint32
	Permissions *FileMode
	ATime       *uint32
	MTime       *uint32
	Extended    map[string]string
}

// flags computes the SSH_FILEXFER_ATTR_* bitmask for the fields that are
// actually present, satisfying the flag/field bijection invariant in
// spec.md section 3 invariant 6.
func (a *Attributes) flags() uint32 {
	if a == nil {
		return 0
	}
	var f uint32
	if a.Size != nil {
		f |= attrSize
	}
	if a.UID != nil && a.GID != nil {
		f |= attrUIDGID
	}
	if a.Permissions != nil {
		f |= attrPermissions
	}
	if a.ATime != nil && a.MTime != nil {
		f |= attrACModTime
	}
	if len(a.Extended) > 0 {
		f |= attrExtended
	}
	return f
}

func (a *Attributes) encode(buf *buffer) {
	flags := a.flags()
	buf.AppendUint32(flags)
	if flags == 0 {
		return
	}
	if flags&attrSize != 0 {
		buf.AppendUint64(*a.Size)
	}
	if flags&attrUIDGID != 0 {
		buf.AppendUint32(*a.UID)
		buf.AppendUint32(*a.GID)
	}
	if flags&attrPermissions != 0 {
		buf.AppendUint32(uint32(*a.Permissions))
	}
	if flags&attrACModTime != 0 {
		buf.AppendUint32(*a.ATime)
		buf.AppendUint32(*a.MTime)
	}
	if flags&attrExtended != 0 {
		buf.AppendUint32(uint32(len(a.Extended)))
		for k, v := range a.Extended {
			buf.AppendString(k)
			buf.AppendString(v)
		}
	}
}

func decodeAttributes(buf *buffer) (*Attributes, error) {
	flags, err := buf.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	a := &Attributes{}
	if flags&attrSize != 0 {
		v, err := buf.ConsumeUint64()
		if err != nil {
			return nil, err
		}
		a.Size = &v
	}
	if flags&attrUIDGID != 0 {
		uid, err := buf.ConsumeUint32()
		if err != nil {
			return nil, err
		}
		gid, err := buf.ConsumeUint32()
		if err != nil {
			return nil, err
		}
		a.UID, a.GID = &uid, &gid
	}
	if flags&attrPermissions != 0 {
		v, err := buf.ConsumeUint32()
		if err != nil {
			return nil, err
		}
		mode := FileMode(v)
		a.Permissions = &mode
	}
	if flags&attrACModTime != 0 {
		atime, err := buf.ConsumeUint32()
		if err != nil {
			return nil, err
		}
		mtime, err := buf.ConsumeUint32()
		if err != nil {
			return nil, err
		}
		a.ATime, a.MTime = &atime, &mtime
	}
	if flags&attrExtended != 0 {
		count, err := buf.ConsumeUint32()
		if err != nil {
			return nil, err
		}
		a.Extended = make(map[string]string, count)
		for i := uint32(0); i < count; i++ {
			k, err := buf.ConsumeString()
			if err != nil {
				return nil, err
			}
			v, err := buf.ConsumeString()
			if err != nil {
				return nil, err
			}
			a.Extended[k] = v
		}
	}
	return a, nil
}

// NameEntry is the Name record tuple from spec.md section 3: a filename, its
// human-readable "ls -l" rendering, and its attributes.
type NameEntry struct {
	Name      string
	LongName  string
	Attrs     Attributes
}

func (n *NameEntry) encode(buf *buffer) {
	buf.AppendString(n.Name)
	buf.AppendString(n.LongName)
	n.Attrs.encode(buf)
}

func decodeNameEntry(buf *buffer) (*NameEntry, error) {
	name, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	longName, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttributes(buf)
	if err != nil {
		return nil, err
	}
	return &NameEntry{Name: name, LongName: longName, Attrs: *attrs}, nil
}
