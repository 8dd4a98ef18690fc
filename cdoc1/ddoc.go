package cdoc1

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/cdoc-project/cdoc/errs"
)

// ddocFile is one embedded file inside a DDOC bundle, in the same shape
// the stream package hands to a TAR consumer.
type ddocFile struct {
	Name string
	Mime string
	Data []byte
}

type ddocSignedDoc struct {
	XMLName   xml.Name       `xml:"SignedDoc"`
	Format    string         `xml:"format,attr"`
	Version   string         `xml:"version,attr"`
	DataFiles []ddocDataFile `xml:"DataFile"`
}

type ddocDataFile struct {
	ContentType string `xml:"ContentType,attr"`
	Filename    string `xml:"Filename,attr"`
	ID          string `xml:"Id,attr"`
	MimeType    string `xml:"MimeType,attr"`
	Size        int64  `xml:"Size,attr"`
	Content     string `xml:",chardata"`
}

// parseDDOC decodes a DigiDoc 1.3 SignedDoc wrapper, returning its
// embedded files in document order. Only the EMBEDDED_BASE64 content type
// is supported, the only one CDoc1 ever produces.
func parseDDOC(data []byte) ([]ddocFile, error) {
	var doc ddocSignedDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.InvalidParams, "parsing DDOC bundle", err)
	}
	files := make([]ddocFile, 0, len(doc.DataFiles))
	for _, df := range doc.DataFiles {
		if df.ContentType != "" && df.ContentType != "EMBEDDED_BASE64" {
			return nil, errs.New(errs.NotImplemented, fmt.Sprintf("DDOC content type %q not supported", df.ContentType))
		}
		raw, err := base64.StdEncoding.DecodeString(trimXMLWhitespace(df.Content))
		if err != nil {
			return nil, errs.Wrap(errs.InvalidParams, "decoding DDOC DataFile base64 content", err)
		}
		files = append(files, ddocFile{Name: df.Filename, Mime: df.MimeType, Data: raw})
	}
	return files, nil
}

// writeDDOC serializes files as a DigiDoc 1.3 SignedDoc wrapper.
func writeDDOC(files []ddocFile) ([]byte, error) {
	doc := ddocSignedDoc{Format: "DIGIDOC-XML", Version: "1.3"}
	for i, f := range files {
		mime := f.Mime
		if mime == "" {
			mime = "application/octet-stream"
		}
		doc.DataFiles = append(doc.DataFiles, ddocDataFile{
			ContentType: "EMBEDDED_BASE64",
			Filename:    f.Name,
			ID:          "D" + strconv.Itoa(i),
			MimeType:    mime,
			Size:        int64(len(f.Data)),
			Content:     base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, errs.Wrap(errs.OutputStreamError, "encoding DDOC bundle", err)
	}
	return buf.Bytes(), nil
}

// trimXMLWhitespace strips the leading/trailing newlines and indentation
// encoding/xml's chardata capture includes around a pretty-printed
// base64 blob.
func trimXMLWhitespace(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
