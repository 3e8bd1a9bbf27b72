package model

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"pixwave/internal/domain"

	"github.com/oklog/ulid/v2"
)

type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// MaxLoRAs is the most (name, weight) pairs a request may carry; extra
// entries are dropped rather than rejected.
const MaxLoRAs = 4

// DefaultLoRAWeight is used when a pair arrives without an explicit weight.
const DefaultLoRAWeight = 1.0

type LoRA struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// GenerationParams is the payload handed to the generation backend. It is
// serialized once at enqueue time and never mutated afterwards.
type GenerationParams struct {
	PromptTags string `json:"prompt_tags"`
	ModelName  string `json:"model_name"`
	LoRAs      []LoRA `json:"loras,omitempty"`
	Aspect     string `json:"aspect"`
	Seed       int64  `json:"seed"`
	CfgScale   string `json:"cfg_scale"`
	CreditCost int64  `json:"credit_cost"`
	CostWaived bool   `json:"cost_waived"`
}

// NewGenerationParams pairs loraNames with loraWeights positionally. Missing
// weights default to DefaultLoRAWeight; anything beyond MaxLoRAs is dropped.
// A seed of 0 is replaced with a random one so repeated submissions differ.
func NewGenerationParams(promptTags, modelName string, loraNames []string, loraWeights []float64, aspect string, seed int64, cfgScale string) (*GenerationParams, error) {
	if promptTags == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(loraNames) > MaxLoRAs {
		loraNames = loraNames[:MaxLoRAs]
	}
	loras := make([]LoRA, 0, len(loraNames))
	for i, name := range loraNames {
		if name == "" {
			continue
		}
		w := DefaultLoRAWeight
		if i < len(loraWeights) && loraWeights[i] != 0 {
			w = loraWeights[i]
		}
		loras = append(loras, LoRA{Name: name, Weight: w})
	}
	if seed == 0 {
		seed = rand.Int63()
	}
	return &GenerationParams{
		PromptTags: promptTags,
		ModelName:  modelName,
		LoRAs:      loras,
		Aspect:     aspect,
		Seed:       seed,
		CfgScale:   cfgScale,
	}, nil
}

func (p *GenerationParams) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func DecodeGenerationParams(raw []byte) (*GenerationParams, error) {
	var p GenerationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode generation params: %w", err)
	}
	return &p, nil
}

// GenerationRequest is the durable queue entry. It is created in `pending`
// state by the intake path and mutated only by the queue processor.
// CreditCost/CostWaived are duplicated out of the params blob so a refund can
// still be issued when the blob itself fails to decode.
type GenerationRequest struct {
	ID                string
	UserID            string
	Params            []byte // immutable once created
	Status            GenerationStatus
	Result            []byte
	ResultContentType string
	Error             string
	CreditCost        int64
	CostWaived        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewGenerationRequest serializes params and produces a pending request.
// IDs are ULIDs: lexicographic order follows creation order, which gives the
// queue a total FIFO order even when created_at timestamps collide.
func NewGenerationRequest(userID string, params *GenerationParams) (*GenerationRequest, error) {
	if params == nil {
		return nil, domain.ErrInvalidArgument
	}
	raw, err := params.Encode()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &GenerationRequest{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Params:     raw,
		Status:     GenerationStatusPending,
		CreditCost: params.CreditCost,
		CostWaived: params.CostWaived,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Refundable reports whether a failed run owes the user their credits back.
func (r *GenerationRequest) Refundable() bool {
	return r.CreditCost > 0 && !r.CostWaived
}
