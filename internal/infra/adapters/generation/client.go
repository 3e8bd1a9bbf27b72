package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ImageGeneratorAdapter = (*HTTPClient)(nil)

// HTTPClient implements adapter.ImageGeneratorAdapter against the image
// synthesis backend's HTTP API. The backend answers POST {base}/generate with
// raw image bytes and a Content-Type header, or a non-2xx status with a plain
// text body. Failures are surfaced as-is; retry policy is not this layer's
// concern.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(base string, timeout time.Duration) (*HTTPClient, error) {
	if base == "" {
		return nil, errors.New("backend base url empty")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Model    string `json:"model,omitempty"`
	LoRAs    string `json:"loras,omitempty"`
	Aspect   string `json:"aspect_ratio,omitempty"`
	Seed     int64  `json:"seed"`
	CfgScale string `json:"cfg_scale,omitempty"`
}

func (c *HTTPClient) Generate(ctx context.Context, params *model.GenerationParams) (*adapter.ImageResult, error) {
	if params == nil {
		return nil, errors.New("nil generation params")
	}
	reqBody := generateRequest{
		Prompt:   params.PromptTags,
		Model:    params.ModelName,
		LoRAs:    EncodeLoRAs(params.LoRAs),
		Aspect:   params.Aspect,
		Seed:     params.Seed,
		CfgScale: params.CfgScale,
	}

	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/generate", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, fmt.Errorf("backend http %d: %s", resp.StatusCode, msg)
	}
	if len(body) == 0 {
		return nil, errors.New("backend returned empty image payload")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/png"
	}
	return &adapter.ImageResult{Bytes: body, ContentType: ct}, nil
}

// EncodeLoRAs serializes (name, weight) pairs into the backend's compact
// "name:weight" comma-joined form. At most model.MaxLoRAs entries are kept;
// a zero weight falls back to the neutral default.
func EncodeLoRAs(loras []model.LoRA) string {
	if len(loras) == 0 {
		return ""
	}
	if len(loras) > model.MaxLoRAs {
		loras = loras[:model.MaxLoRAs]
	}
	parts := make([]string, 0, len(loras))
	for _, l := range loras {
		if l.Name == "" {
			continue
		}
		w := l.Weight
		if w == 0 {
			w = model.DefaultLoRAWeight
		}
		parts = append(parts, l.Name+":"+strconv.FormatFloat(w, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}
