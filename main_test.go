package main

import (
	"context"
	"path/filepath"
	"testing"

	"signal-core/internal/risk"
	"signal-core/internal/state"
	"signal-core/pkg/config"
	"signal-core/pkg/exchanges/common"
)

func TestSymbolSettings(t *testing.T) {
	two := 2
	cfg := &config.Config{MaxPriceDecimals: 5, LegacyQtyPrecision: true}
	prec, defaults := symbolSettings(cfg, map[string]config.SymbolOverride{
		"SOLUSDT": {QuantityDecimals: &two, Leverage: 10, MarginMode: "ISOLATED"},
		"XRPUSDT": {Leverage: 0},
	})

	if prec.MaxPriceDecimals != 5 || prec.TwoDigitQuantityDecimals != 1 {
		t.Fatalf("unexpected precision config %+v", prec)
	}
	if prec.Overrides["SOLUSDT"] != 2 || prec.Overrides["BTCUSDT"] != 3 {
		t.Fatalf("overrides %+v", prec.Overrides)
	}
	want := risk.SymbolConfig{Leverage: 10, MarginMode: common.MarginIsolated}
	if defaults["SOLUSDT"] != want {
		t.Fatalf("SOLUSDT defaults %+v", defaults["SOLUSDT"])
	}
	if _, ok := defaults["XRPUSDT"]; ok {
		t.Fatalf("symbols without settings need no risk defaults")
	}
}

func TestOpenStateKVFile(t *testing.T) {
	cfg := &config.Config{StateBackend: "file", StateFile: filepath.Join(t.TempDir(), "state.json")}
	kv, closeKV, err := openStateKV(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("openStateKV: %v", err)
	}
	defer closeKV()
	if _, ok := kv.(*state.FileKV); !ok {
		t.Fatalf("expected file backend, got %T", kv)
	}
}
