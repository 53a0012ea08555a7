// Package oracle judges verify_screen expectations against device
// screenshots with a vision model. A verdict is advisory output for the
// replay report; the oracle never mutates device state.
package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/replaykit/replaykit/internal/config"
)

const verdictInstructions = `You are a strict QA reviewer for mobile app screenshots.
Given a screenshot and an expectation written by a test author, decide whether
the screenshot satisfies the expectation. Judge only what is visible. Report
pass, your confidence from 0 to 1, and a one sentence reason.`

// Verdict is the oracle's judgment of one expectation.
type Verdict struct {
	Pass       bool    `json:"pass"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var verdictSchema = generateSchema[Verdict]()

// Oracle verifies screenshots against natural-language expectations.
type Oracle struct {
	client openai.Client
	model  string

	// call is swapped in tests to avoid the network.
	call func(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error)
}

// New builds an oracle from project settings. The API key comes from the
// OPENAI_API_KEY environment variable, the client default.
func New(oc config.OracleConfig) *Oracle {
	o := &Oracle{client: openai.NewClient(), model: oc.Model}
	o.call = o.callWithRetry
	return o
}

// Verify judges whether the screenshot satisfies the expectation.
func (o *Oracle) Verify(ctx context.Context, imageData []byte, mimeType, expectation string) (Verdict, error) {
	if len(imageData) == 0 {
		return Verdict{}, fmt.Errorf("oracle: empty screenshot")
	}
	if expectation == "" {
		return Verdict{}, fmt.Errorf("oracle: empty expectation")
	}

	params := buildParams(o.model, imageData, mimeType, expectation)
	resp, err := o.call(ctx, params)
	if err != nil {
		return Verdict{}, fmt.Errorf("oracle: verify: %w", err)
	}
	return parseVerdict(resp.OutputText())
}

func buildParams(model string, imageData []byte, mimeType, expectation string) responses.ResponseNewParams {
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "ScreenVerdict",
			Schema:      verdictSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Screenshot verification verdict JSON"),
			Type:        "json_schema",
		},
	}

	content := responses.ResponseInputMessageContentListParam{
		responses.ResponseInputContentUnionParam{
			OfInputText: &responses.ResponseInputTextParam{Text: "Expectation: " + expectation},
		},
		responses.ResponseInputContentUnionParam{
			OfInputImage: &responses.ResponseInputImageParam{
				ImageURL: openai.String(dataURI(imageData, mimeType)),
				Detail:   responses.ResponseInputImageDetailAuto,
			},
		},
	}

	return responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(300),
		Instructions:    openai.String(verdictInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfInputMessage(content, "user"),
			},
		},
		Text: responses.ResponseTextConfigParam{Format: format},
	}
}

func dataURI(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func parseVerdict(output string) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &v); err != nil {
		return Verdict{}, fmt.Errorf("oracle: malformed verdict %q: %w", output, err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, fmt.Errorf("oracle: confidence %v out of range", v.Confidence)
	}
	return v, nil
}

func (o *Oracle) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	const maxRetries = 3
	waits := []time.Duration{2 * time.Second, 10 * time.Second, 30 * time.Second}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := o.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waits[attempt]):
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "server_error")
}

func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	forceRequired(m)
	return m
}

// forceRequired marks every object property required and closes the object,
// which the strict structured-output mode insists on.
func forceRequired(schema map[string]any) {
	if t, _ := schema["type"].(string); t == "object" {
		schema["additionalProperties"] = false
		props, _ := schema["properties"].(map[string]any)
		var required []any
		for name, sub := range props {
			required = append(required, name)
			if m, ok := sub.(map[string]any); ok {
				forceRequired(m)
			}
		}
		if len(required) > 0 {
			schema["required"] = required
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		forceRequired(items)
	}
}
