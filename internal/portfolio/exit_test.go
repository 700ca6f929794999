package portfolio

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

func TestExitConfigValidate(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name    string
		exit    ExitConfig
		wantErr bool
	}{
		{"trailing only", ExitConfig{TrailPercent: d("0.01")}, false},
		{"oco pair", ExitConfig{TakeProfitPrice: d("110"), StopLossPrice: d("90")}, false},
		{"empty", ExitConfig{}, true},
		{"both modes", ExitConfig{TrailPercent: d("0.01"), TakeProfitPrice: d("110"), StopLossPrice: d("90")}, true},
		{"trail at one", ExitConfig{TrailPercent: d("1")}, true},
		{"take profit without stop loss", ExitConfig{TakeProfitPrice: d("110")}, true},
		{"stop loss without take profit", ExitConfig{StopLossPrice: d("90")}, true},
		{"stop loss above take profit", ExitConfig{TakeProfitPrice: d("90"), StopLossPrice: d("110")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exit.Validate()
			if tt.wantErr && !errors.Is(err, types.ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExitConfigIsTrailing(t *testing.T) {
	if !(ExitConfig{TrailPercent: decimal.RequireFromString("0.01")}).IsTrailing() {
		t.Error("trailing config not recognized")
	}
	if (ExitConfig{TakeProfitPrice: decimal.NewFromInt(110), StopLossPrice: decimal.NewFromInt(90)}).IsTrailing() {
		t.Error("oco config reported as trailing")
	}
}
