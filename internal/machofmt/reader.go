package machofmt

import "io"

// SegmentCommand pairs a parsed Segment64 with its inline Section64
// array (§4.4 step 2 "read total_command_size bytes of load
// commands").
type SegmentCommand struct {
	Segment64
	Sections []Section64
}

// File is the result of parsing a Mach-O image's header and load
// commands: a flat decode with no interpretation of load-order
// semantics (dependency resolution, entry-point computation, and
// relocation all live in package image, which consumes this).
type File struct {
	Header Header

	Segments     []SegmentCommand
	UnixThread   *UnixThreadCmd
	EntryPoint   *EntryPointCmd
	Dylibs       []DylibCmd // from LC_LOAD_DYLIB and LC_REEXPORT_DYLIB, in command order
	Reexports    []DylibCmd // from LC_REEXPORT_DYLIB
	Dylinker     *DylinkerCmd
	DyldInfo     *DyldInfoCmd
	Symtab       *SymtabCmd
	CodeSignature *LinkEditDataCmd
}

// Parse reads a Mach-O header and its load commands from r, which must
// support ReadAt semantics over the whole file (the teacher's reader
// idiom for binary formats, matched here from saferwall-pe's
// io.ReaderAt-based section access rather than sequential io.Reader
// consumption, since load command payloads must be re-sliced
// out-of-order for dylib path strings).
func Parse(r io.ReaderAt) (*File, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil {
		return nil, ErrShortRead
	}
	hdr, err := parseHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	switch hdr.Type {
	case FileTypeExecute, FileTypeDylib, FileTypeDylinker:
	default:
		return nil, ErrUnsupportedFileType
	}

	cmdBuf := make([]byte, hdr.SizeOfCmds)
	if _, err := r.ReadAt(cmdBuf, HeaderSize); err != nil {
		return nil, ErrShortRead
	}

	f := &File{Header: hdr}

	off := 0
	for i := uint32(0); i < hdr.NCmds; i++ {
		if off+cmdHeaderSize > len(cmdBuf) {
			return nil, ErrShortRead
		}
		ch, err := parseCmdHeader(cmdBuf[off:])
		if err != nil {
			return nil, err
		}
		if ch.CmdLen < cmdHeaderSize || off+int(ch.CmdLen) > len(cmdBuf) {
			return nil, ErrShortRead
		}
		body := cmdBuf[off+cmdHeaderSize : off+int(ch.CmdLen)]

		if err := f.parseOne(ch, body); err != nil {
			return nil, err
		}
		off += int(ch.CmdLen)
	}
	return f, nil
}

func (f *File) parseOne(ch cmdHeader, body []byte) error {
	switch ch.Cmd {
	case LCSegment64:
		seg, err := parseSegment64(body)
		if err != nil {
			return err
		}
		sc := SegmentCommand{Segment64: seg}
		rest := body[segment64Size:]
		for s := uint32(0); s < seg.NSects; s++ {
			start := int(s) * section64Size
			if start+section64Size > len(rest) {
				return ErrShortRead
			}
			sect, err := parseSection64(rest[start : start+section64Size])
			if err != nil {
				return err
			}
			sc.Sections = append(sc.Sections, sect)
		}
		f.Segments = append(f.Segments, sc)

	case LCUnixThread:
		ut, err := parseUnixThreadCmd(body)
		if err != nil {
			return err
		}
		f.UnixThread = &ut

	case LCMain:
		ep, err := parseEntryPointCmd(body)
		if err != nil {
			return err
		}
		f.EntryPoint = &ep

	case LCLoadDylib:
		d, err := parseDylibCmd(body)
		if err != nil {
			return err
		}
		f.Dylibs = append(f.Dylibs, d)

	case LCReexportDylib:
		d, err := parseDylibCmd(body)
		if err != nil {
			return err
		}
		f.Reexports = append(f.Reexports, d)
		f.Dylibs = append(f.Dylibs, d)

	case LCLoadDylinker:
		d, err := parseDylinkerCmd(body)
		if err != nil {
			return err
		}
		f.Dylinker = &d

	case LCDyldInfo, LCDyldInfoOnly:
		di, err := parseDyldInfoCmd(body)
		if err != nil {
			return err
		}
		f.DyldInfo = &di

	case LCSymtab:
		st, err := parseSymtabCmd(body)
		if err != nil {
			return err
		}
		f.Symtab = &st

	case LCCodeSignature:
		ld, err := parseLinkEditDataCmd(body)
		if err != nil {
			return err
		}
		f.CodeSignature = &ld
	}
	// Unrecognised load commands are skipped: only the kinds named in
	// §6 are "required"; anything else is inert cargo IRL does not act
	// on.
	return nil
}
