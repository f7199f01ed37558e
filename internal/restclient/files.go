// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/kaelindev/driftline/internal/model"
)

// UploadFile uploads content as a file attachment to channelID, tagged
// with filename and an optional comment. It issues exactly one
// multipart request: the comment travels as a form field alongside the
// file content rather than a separate follow-up call, so a retried
// upload can never leave a file posted without its comment or a comment
// posted twice.
func (c *Client) UploadFile(ctx context.Context, channelID, filename, comment string, content io.Reader) (model.File, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("channels", channelID); err != nil {
		return model.File{}, fmt.Errorf("restclient: write channels field: %w", err)
	}
	if comment != "" {
		if err := writer.WriteField("initial_comment", comment); err != nil {
			return model.File{}, fmt.Errorf("restclient: write comment field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return model.File{}, fmt.Errorf("restclient: create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return model.File{}, fmt.Errorf("restclient: copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return model.File{}, fmt.Errorf("restclient: close multipart writer: %w", err)
	}

	bodyBytes := body.Bytes()
	contentType := writer.FormDataContentType()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files.upload", bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return model.File{}, err
	}

	respBody, err := readBody(resp)
	if err != nil {
		return model.File{}, err
	}

	var out struct {
		OK   bool       `json:"ok"`
		File model.File `json:"file"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return model.File{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !out.OK {
		return model.File{}, ErrValidation
	}
	return out.File, nil
}
