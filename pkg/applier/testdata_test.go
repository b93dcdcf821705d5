package applier

// bzip2Of8000xAB is the bzip2-compressed form of 8000 bytes of value 0xAB,
// used by both the writer stack tests and the REPLACE_BZ end-to-end
// scenario. It was produced once with the system `bzip2` tool and is
// embedded here since the standard library only offers a bzip2 decoder.
var bzip2Of8000xAB = []byte{
	0x42, 0x5a, 0x68, 0x39, 0x31, 0x41, 0x59, 0x26, 0x53, 0x59, 0x70, 0x49,
	0xdd, 0x69, 0x00, 0x00, 0x11, 0x82, 0x10, 0x80, 0x08, 0x00, 0x08, 0x00,
	0x08, 0x20, 0x00, 0x30, 0xcc, 0x09, 0xaa, 0x69, 0xd5, 0x83, 0x6a, 0x0f,
	0x17, 0x72, 0x45, 0x38, 0x50, 0x90, 0x70, 0x49, 0xdd, 0x69,
}
