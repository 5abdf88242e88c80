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

package observability

const (
	AttrRequestID    = "switchboard.request_id"
	AttrCategory     = "switchboard.category"
	AttrProvider     = "switchboard.provider"
	AttrModel        = "switchboard.model"
	AttrStage        = "switchboard.stage"
	AttrTokensInput  = "switchboard.tokens.input"
	AttrTokensOutput = "switchboard.tokens.output"
	AttrStopReason   = "switchboard.stop_reason"
	AttrErrorType    = "error.type"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanRequest      = "broker.request"
	SpanUpstreamCall = "broker.upstream_call"
	SpanStage        = "broker.stage"
	SpanHTTPRequest  = "broker.http_request"

	DefaultServiceName  = "switchboard"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
