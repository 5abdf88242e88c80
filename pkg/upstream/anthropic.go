// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/routing"
)

const anthropicVersion = "2023-06-01"

// CallAnthropic forwards a request to an Anthropic-protocol provider. No
// translation happens on this path; the provider already speaks the broker's
// normalized format.
func (c *Client) CallAnthropic(ctx context.Context, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error) {
	a, err := c.authorize(ctx, dec)
	if err != nil {
		return nil, err
	}

	payload := *req
	payload.Model = dec.Model
	raw, err := json.Marshal(&payload)
	if err != nil {
		return nil, upstreamErr(dec, err, "encode request")
	}

	url := baseURL(dec, a) + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, upstreamErr(dec, err, "build request")
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.token)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpFor(dec.Protocol).Do(httpReq)
	if err != nil && resp == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstreamErr(dec, err, "upstream call failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamErr(dec, err, "read response body")
	}

	if resp.StatusCode >= 400 {
		return nil, apierror.Newf(apierror.CodeUpstream, "anthropic upstream answered status %d", resp.StatusCode).
			WithProvider(dec.Provider).
			WithModel(dec.Model).
			WithStatus(http.StatusBadGateway).
			WithDetail("upstream_status", resp.StatusCode).
			WithDetail("body_preview", clip(string(body), 500))
	}

	var out anthropic.Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apierror.Wrap(apierror.CodeAbnormalResponse, err, "decode anthropic response").
			WithProvider(dec.Provider).
			WithModel(dec.Model)
	}
	return &out, nil
}
