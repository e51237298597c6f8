package cloudconvert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

const (
	defaultEndpoint       = "https://api.cloudconvert.com/convert"
	defaultDownloadScheme = "http:"
	defaultAudioCodec     = "FLAC"
	defaultAudioBitrate   = "256"
	defaultAudioChannels  = "1"
	defaultAudioFrequency = "48000"
	defaultTimeout        = 2 * time.Minute
)

// Config holds configuration for the conversion client
type Config struct {
	APIKey         string        `yaml:"api_key"`
	Endpoint       string        `yaml:"endpoint"`
	DownloadScheme string        `yaml:"download_scheme"`
	AudioCodec     string        `yaml:"audio_codec"`
	AudioBitrate   string        `yaml:"audio_bitrate"`
	AudioChannels  string        `yaml:"audio_channels"`
	AudioFrequency string        `yaml:"audio_frequency"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIKey == "" {
		return errors.New("conversion API key is required")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// ConvertOptions are the audio settings of the output file
type ConvertOptions struct {
	AudioCodec     string `json:"audio_codec"`
	AudioBitrate   string `json:"audio_bitrate"`
	AudioChannels  string `json:"audio_channels"`
	AudioFrequency string `json:"audio_frequency"`
}

// ConvertRequest is the body of a conversion call
type ConvertRequest struct {
	APIKey         string         `json:"apikey"`
	InputFormat    string         `json:"inputformat"`
	OutputFormat   string         `json:"outputformat"`
	Input          string         `json:"input"`
	ConvertOptions ConvertOptions `json:"convertoptions"`
	File           string         `json:"file"`
	FileName       string         `json:"filename"`
	Wait           string         `json:"wait"`
	Download       string         `json:"download"`
}

// ConvertResponse is the part of the conversion answer we read
type ConvertResponse struct {
	Output *entities.ConversionResult `json:"output"`
}

// Client converts audio files through the conversion HTTP API
type Client struct {
	apiKey         string
	endpoint       string
	downloadScheme string
	options        ConvertOptions
	httpClient     *http.Client
	logger         *zap.Logger
}

// Ensure Client implements the AudioConverter interface
var _ repositories.AudioConverter = (*Client)(nil)

// NewClient creates a new conversion client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:         config.APIKey,
		endpoint:       orDefault(config.Endpoint, defaultEndpoint),
		downloadScheme: orDefault(config.DownloadScheme, defaultDownloadScheme),
		options: ConvertOptions{
			AudioCodec:     orDefault(config.AudioCodec, defaultAudioCodec),
			AudioBitrate:   orDefault(config.AudioBitrate, defaultAudioBitrate),
			AudioChannels:  orDefault(config.AudioChannels, defaultAudioChannels),
			AudioFrequency: orDefault(config.AudioFrequency, defaultAudioFrequency),
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Convert implements repositories.AudioConverter. The call waits server side
// for the conversion to finish and answers with the output descriptor.
func (c *Client) Convert(ctx context.Context, req repositories.ConversionRequest) (entities.ConversionResult, error) {
	body, err := json.Marshal(ConvertRequest{
		APIKey:         c.apiKey,
		InputFormat:    req.InputFormat,
		OutputFormat:   req.OutputFormat,
		Input:          "base64",
		ConvertOptions: c.options,
		File:           req.DataURL,
		FileName:       req.FileName,
		Wait:           "true",
		Download:       "false",
	})
	if err != nil {
		return entities.ConversionResult{}, domain.ProtocolError("encode conversion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return entities.ConversionResult{}, domain.NetworkError("create conversion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Info("Submitting audio conversion",
		zap.String("file", req.FileName),
		zap.String("inputFormat", req.InputFormat),
		zap.String("outputFormat", req.OutputFormat))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return entities.ConversionResult{}, domain.NetworkError("convert", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("convert", resp); err != nil {
		return entities.ConversionResult{}, err
	}

	var parsed ConvertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return entities.ConversionResult{}, domain.ProtocolError("decode conversion response", err)
	}
	if parsed.Output == nil {
		return entities.ConversionResult{}, domain.ProtocolError("decode conversion response", errors.New("output missing"))
	}
	if err := parsed.Output.Validate(); err != nil {
		return entities.ConversionResult{}, domain.ProtocolError("decode conversion response", err)
	}

	c.logger.Info("Audio converted",
		zap.String("url", parsed.Output.OutputURL),
		zap.String("filename", parsed.Output.OutputFileName))

	return *parsed.Output, nil
}

// Download implements repositories.AudioConverter
func (c *Client) Download(ctx context.Context, result entities.ConversionResult, destPath string) error {
	url := result.DownloadURL(c.downloadScheme)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NetworkError("create download request", err)
	}

	c.logger.Debug("Downloading converted file", zap.String("url", url), zap.String("dest", destPath))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.NetworkError("download", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("download", resp); err != nil {
		return err
	}

	// Write to temp file first, then rename
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return domain.DeviceIOError("create download file", err)
	}

	written, err := io.Copy(f, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return domain.NetworkError("download", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return domain.DeviceIOError("move download file", err)
	}

	c.logger.Info("Converted file downloaded", zap.String("dest", destPath), zap.Int64("bytes", written))
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("API returned error %d: %s", resp.StatusCode, bytes.TrimSpace(errorBody))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.AuthError(op, err)
	case resp.StatusCode >= 500:
		return domain.NetworkError(op, err)
	default:
		return domain.ProtocolError(op, err)
	}
}
