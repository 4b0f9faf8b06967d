// Package tagging writes basic metadata into downloaded audio files.
package tagging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// TagData is the subset of metadata written to files.
type TagData struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	TrackNumber int
	DiscNumber  int
	TotalTracks int
}

// TagFile dispatches on the file extension.
func TagFile(filePath string, data *TagData) error {
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".flac":
		return tagFLAC(filePath, data)
	case ".mp3":
		return tagMP3(filePath, data)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func newVorbisComment(data *TagData) *flacvorbis.MetaDataBlockVorbisComment {
	vc := flacvorbis.New()
	add := func(field, value string) {
		if value != "" {
			_ = vc.Add(field, value)
		}
	}
	add(flacvorbis.FIELD_TITLE, data.Title)
	add(flacvorbis.FIELD_ARTIST, data.Artist)
	add(flacvorbis.FIELD_ALBUM, data.Album)
	add("ALBUMARTIST", data.AlbumArtist)
	if data.TrackNumber > 0 {
		add(flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(data.TrackNumber))
	}
	if data.DiscNumber > 0 {
		add("DISCNUMBER", strconv.Itoa(data.DiscNumber))
	}
	if data.TotalTracks > 0 {
		add("TRACKTOTAL", strconv.Itoa(data.TotalTracks))
	}
	return vc
}

// tagFLAC replaces the Vorbis comment block and rewrites the file through a
// temp file in the same directory.
func tagFLAC(filePath string, data *TagData) error {
	parsed, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse flac: %w", err)
	}

	block := newVorbisComment(data).Marshal()
	replaced := false
	for i, m := range parsed.Meta {
		if m.Type == flac.VorbisComment {
			parsed.Meta[i] = &block
			replaced = true
			break
		}
	}
	if !replaced {
		parsed.Meta = append(parsed.Meta, &block)
	}

	tmpPath := filePath + ".tagging"
	if err := parsed.Save(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write flac: %w", err)
	}
	return os.Rename(tmpPath, filePath)
}

func tagMP3(filePath string, data *TagData) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open mp3: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(data.Title)
	tag.SetArtist(data.Artist)
	if data.Album != "" {
		tag.SetAlbum(data.Album)
	}
	if data.AlbumArtist != "" {
		tag.AddTextFrame(tag.CommonID("Band/Orchestra/Accompaniment"), id3v2.EncodingUTF8, data.AlbumArtist)
	}
	if data.TrackNumber > 0 {
		position := strconv.Itoa(data.TrackNumber)
		if data.TotalTracks > 0 {
			position += "/" + strconv.Itoa(data.TotalTracks)
		}
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, position)
	}
	if data.DiscNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"), id3v2.EncodingUTF8, strconv.Itoa(data.DiscNumber))
	}

	return tag.Save()
}
