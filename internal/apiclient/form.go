package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
)

// Form is a multipart payload. Field order is preserved. File contents
// are buffered so a request can be sent twice.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name  string
	value string
}

type formFile struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func NewForm() *Form {
	return &Form{}
}

// Set replaces every value of name with value.
func (f *Form) Set(name, value string) *Form {
	out := f.fields[:0]
	for _, fld := range f.fields {
		if fld.name != name {
			out = append(out, fld)
		}
	}
	f.fields = append(out, formField{name: name, value: value})
	return f
}

// Add appends a value, keeping earlier values of name.
func (f *Form) Add(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// Get returns the first value of name.
func (f *Form) Get(name string) (string, bool) {
	for _, fld := range f.fields {
		if fld.name == name {
			return fld.value, true
		}
	}
	return "", false
}

// Values returns the fields as a map keeping the last value per name.
func (f *Form) Values() map[string]string {
	out := make(map[string]string, len(f.fields))
	for _, fld := range f.fields {
		out[fld.name] = fld.value
	}
	return out
}

// AddFile reads r fully and attaches it under field.
func (f *Form) AddFile(field, filename string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	f.files = append(f.files, formFile{field: field, filename: filename, contentType: ct, data: data})
	return nil
}

func (f *Form) HasFiles() bool {
	return len(f.files) > 0
}

// Encode renders the multipart body and its Content-Type with boundary.
func (f *Form) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", err
		}
	}

	for _, file := range f.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
