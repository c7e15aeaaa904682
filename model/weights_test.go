package model

import (
	"math"
	"testing"

	"github.com/rushteam/animerec/core"
)

func TestBlendWeightsFromRMSE(t *testing.T) {
	tests := []struct {
		name      string
		local     float64
		external  float64
		floor     float64
		wantLocal float64
	}{
		{name: "equal rmse", local: 1, external: 1, floor: 0.3, wantLocal: 0.5},
		{name: "local better 2x", local: 0.5, external: 1, floor: 0.3, wantLocal: 2.0 / 3.0},
		// ratio 12 > 3: worse 1.2 -> 0.1*3*sqrt(4) = 0.6, weights 1/0.1 : 1/0.6 = 6/7
		// 6/7 ≈ 0.857 超过 1-floor，截断到 0.7
		{name: "dampened then floored", local: 0.1, external: 1.2, floor: 0.3, wantLocal: 0.7},
		// ratio 12 同上，但 floor 0.1 时保留阻尼后的结果
		{name: "dampened only", local: 0.1, external: 1.2, floor: 0.1, wantLocal: 6.0 / 7.0},
		{name: "external better", local: 1.5, external: 1, floor: 0.3, wantLocal: 0.4},
		{name: "zero rmse does not divide by zero", local: 0, external: 1, floor: 0.3, wantLocal: 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := BlendWeightsFromRMSE(tt.local, tt.external, tt.floor)
			if err != nil {
				t.Fatalf("BlendWeightsFromRMSE: %v", err)
			}
			if math.Abs(w.Local-tt.wantLocal) > 1e-9 {
				t.Errorf("Local = %v, want %v", w.Local, tt.wantLocal)
			}
			if math.Abs(w.Local+w.External-1) > 1e-9 {
				t.Errorf("weights sum to %v", w.Local+w.External)
			}
			if err := w.Validate(tt.floor); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestBlendWeightsFromRMSE_Invalid(t *testing.T) {
	tests := []struct {
		name            string
		local, external float64
		floor           float64
	}{
		{name: "nan", local: math.NaN(), external: 1, floor: 0.3},
		{name: "negative", local: -1, external: 1, floor: 0.3},
		{name: "floor too large", local: 1, external: 1, floor: 0.6},
		{name: "floor zero", local: 1, external: 1, floor: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BlendWeightsFromRMSE(tt.local, tt.external, tt.floor)
			if !core.IsConfigurationError(err) {
				t.Errorf("err = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestBlendWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		w       BlendWeights
		wantErr bool
	}{
		{name: "default", w: DefaultBlendWeights()},
		{name: "sum not one", w: BlendWeights{Local: 0.6, External: 0.6}, wantErr: true},
		{name: "below floor", w: BlendWeights{Local: 0.8, External: 0.2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate(0.3)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !core.IsConfigurationError(err) {
				t.Errorf("err = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestWeightsCodec(t *testing.T) {
	data, err := EncodeWeights(BlendWeights{Local: 0.6, External: 0.4})
	if err != nil {
		t.Fatalf("EncodeWeights: %v", err)
	}
	w, err := DecodeWeights(data, 0.3)
	if err != nil {
		t.Fatalf("DecodeWeights: %v", err)
	}
	if w.Local != 0.6 || w.External != 0.4 {
		t.Errorf("decoded = %+v", w)
	}

	if _, err := DecodeWeights([]byte("local: 0.9\nexternal: 0.1\n"), 0.3); !core.IsConfigurationError(err) {
		t.Errorf("decoding weights below floor err = %v", err)
	}
}
