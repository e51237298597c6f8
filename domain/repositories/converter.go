package repositories

import (
	"context"

	"github.com/satriahrh/ditado/domain/entities"
)

// ConversionRequest describes one audio file to convert
type ConversionRequest struct {
	FileName     string
	DataURL      string
	InputFormat  string
	OutputFormat string
}

// AudioConverter is a remote audio format conversion service
type AudioConverter interface {
	// Convert submits the file and waits for the output descriptor
	Convert(ctx context.Context, req ConversionRequest) (entities.ConversionResult, error)
	// Download fetches the converted file to destPath, replacing any previous file
	Download(ctx context.Context, result entities.ConversionResult, destPath string) error
}
