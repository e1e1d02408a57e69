package recorder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aircast/aircast/internal/id3"
)

// writeCueHeader emits the cue sheet preamble. Cue sheets use CRLF line
// endings throughout for player compatibility.
func writeCueHeader(w io.Writer, timestamp, filename, filetype string) {
	fmt.Fprintf(w, "TITLE \"%s\"\r\n", timestamp)
	fmt.Fprintf(w, "PERFORMER \"Recorded with Aircast\"\r\n")
	fmt.Fprintf(w, "FILE \"%s\" %s\r\n", filename, filetype)
}

// applyTags prepends the chapter tag, and for mp3 the bitstream summary
// frame, to the finished recording. The rewrite goes through a temporary
// file and an atomic rename; any failure leaves the untagged original in
// place.
func (r *Recorder) applyTags(s *session) {
	if err := r.rewriteTagged(s); err != nil {
		r.log.Error("failed to tag recording", "path", s.pathname, "error", err)
		r.metrics.RecordTagRewrite(r.id, "failed")
		return
	}
	r.log.Info("tagged recording", "path", s.pathname, "chapters", len(s.mi))
	r.metrics.RecordTagRewrite(r.id, "ok")
}

func (r *Recorder) rewriteTagged(s *session) error {
	src, err := os.Open(s.pathname)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.ReadFull(src, s.firstHeader[:]); err != nil {
		return fmt.Errorf("reading first frame header: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tmpname := s.pathname + ".tmp"
	dst, err := os.Create(tmpname)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(dst)

	fail := func(err error) error {
		dst.Close()
		os.Remove(tmpname)
		return err
	}

	chapters := make([]id3.Chapter, 0, len(s.mi))
	for _, mi := range s.mi {
		chapters = append(chapters, id3.Chapter{
			Artist:    mi.artist,
			Title:     mi.title,
			Album:     mi.album,
			StartMS:   uint32(mi.timeOffset),
			EndMS:     uint32(mi.timeOffsetEnd),
			StartByte: uint32(mi.byteOffset),
			EndByte:   uint32(mi.byteOffsetEnd),
		})
	}
	if _, err := w.Write(id3.ChapterTag(s.lengthMS, chapters, tagPadding)); err != nil {
		return fail(err)
	}

	if s.includeXing {
		if len(s.mi2) == 0 {
			r.log.Warn("no segments logged, skipping bitstream summary frame")
		} else if err := id3.WriteXingFrame(w, id3.XingParams{
			FirstHeader:  s.firstHeader,
			LengthMS:     s.lengthMS,
			BytesWritten: s.bytesWritten,
			VBR:          s.isVBR,
			Segments:     s.mi2,
		}); err != nil {
			return fail(err)
		}
	}

	if _, err := io.Copy(w, src); err != nil {
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpname)
		return err
	}
	return os.Rename(tmpname, s.pathname)
}

// writeAttachedCue writes the cue sheet for a finished attached recording
// from the logged chapter list.
func (r *Recorder) writeAttachedCue(s *session) {
	fp, err := os.Create(s.cuePathname)
	if err != nil {
		r.log.Error("failed to open cue sheet for writing", "path", s.cuePathname, "error", err)
		return
	}
	defer fp.Close()

	w := bufio.NewWriter(fp)
	writeCueHeader(w, s.timestamp, filepath.Base(s.pathname), "MP3")

	for i, mi := range s.mi {
		fmt.Fprintf(w, "  TRACK %02d AUDIO\r\n", i+1)
		if mi.title != "" {
			fmt.Fprintf(w, "    TITLE \"%s\"\r\n", mi.title)
		}
		if mi.artist != "" {
			fmt.Fprintf(w, "    PERFORMER \"%s\"\r\n", mi.artist)
		}
		if mi.album != "" {
			fmt.Fprintf(w, "    REM ALBUM \"%s\"\r\n", mi.album)
		}
		// the cue standard requires the first index at zero
		var mm, ss, ff int
		if i > 0 {
			mm = mi.timeOffset / 60000
			ss = mi.timeOffset / 1000 % 60
			ff = mi.timeOffset % 1000 * 75 / 1000
		}
		fmt.Fprintf(w, "    INDEX 01 %02d:%02d:%02d\r\n", mm, ss, ff)
	}
	if err := w.Flush(); err != nil {
		r.log.Error("failed writing cue sheet", "path", s.cuePathname, "error", err)
	}
}
