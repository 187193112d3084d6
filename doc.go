// Package imta reads, writes and installs entries of IMTA archives.
//
// An IMTA archive is a single seekable file holding many named payloads:
//
//	[Header][entry payloads, any order][EntryRecord table, sorted by id]
//
// Entries are addressed by a 64-bit id, the CRC-64/ECMA-182 of the entry
// name. The header and every record have a fixed little-endian layout, so an
// archive can be opened without loading anything but the table.
//
// # Reading
//
//	a, err := imta.OpenFile("assets.imta")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	s, err := a.OpenReadStreamName("textures/hero.png")
//
// Read streams are bounded views over one entry. Any number of them may be
// used concurrently; they share the archive's file handle and serialize
// every seek+read pair on it.
//
// # Writing
//
// [Writer] appends payloads and writes the sorted table and header on Close.
// [Writer.Reserve] allocates a zero-filled slot that can later be filled in
// place through [Archive.Install] and an [Installer].
//
// # Monitoring
//
// [Archive.AttachMonitor] installs an [IoMonitor] that observes every stream
// operation. See the monitor subpackage for logging and counting monitors.
package imta
