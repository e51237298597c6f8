package entities

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Credential is a service URL plus the username/password pair used to obtain
// bearer tokens for it.
type Credential struct {
	ServiceURL string `json:"service_url" yaml:"service_url"`
	Username   string `json:"-" yaml:"username"`
	Password   string `json:"-" yaml:"password"`
}

// BasicAuthorization returns the value of the Authorization header for this credential.
func (c Credential) BasicAuthorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
}

// Validate validates the credential
func (c Credential) Validate() error {
	if c.ServiceURL == "" {
		return errors.New("service url is required")
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// ConversionResult is the output descriptor returned by the conversion service
type ConversionResult struct {
	OutputURL      string `json:"url"`
	OutputFileName string `json:"filename"`
}

// DownloadURL resolves the output URL against scheme. The conversion service
// answers with protocol-relative URLs ("//host/path"), which get the scheme
// prepended verbatim.
func (r ConversionResult) DownloadURL(scheme string) string {
	if strings.Contains(r.OutputURL, "://") {
		return r.OutputURL
	}
	return scheme + r.OutputURL
}

func (r ConversionResult) Validate() error {
	if r.OutputURL == "" {
		return errors.New("conversion output url is missing")
	}
	if r.OutputFileName == "" {
		return errors.New("conversion output filename is missing")
	}
	if strings.ContainsAny(r.OutputFileName, `/\`) {
		return errors.New("conversion output filename must not contain path separators")
	}
	return nil
}

// TranscriptionResult is the recognized text of one transcription workflow
type TranscriptionResult struct {
	Text string `json:"text"`
}
