package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "SonicPilot/internal/errors"
)

const sampleYAML = `
tokens:
  - id: wsonic
    name: Wrapped Sonic
    symbol: ws
    address: "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38"
    price_sonic: 1
    market_cap: 250000000
    verified: true
  - id: shadow
    name: Shadow
    symbol: SHADOW
    address: "0x3333b97138D4b086720b5aE8A7844b1345a33333"
    price_sonic: "83.5"
    market_cap: 90000000
    verified: true
  - id: shadow-lp
    name: Shadow LP
    symbol: XSHD
    address: "0x5050bc082FF4A74Fb6B0B04385dEfdDB114b2424"
    price_sonic: "0.7"
    market_cap: 900000
  - id: goglz
    name: Goggles
    symbol: GOGLZ
    address: "0x9fDbC3f8Abc05Fa8f3Ad3C17D2F806c1230c4564"
    price_sonic: "0.04"
    market_cap: 1000000
    verified: true
`

func loadSample(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func TestLoadParsesDecimals(t *testing.T) {
	c := loadSample(t)
	if c.Len() != 4 {
		t.Fatalf("expected 4 tokens, got %d", c.Len())
	}
	shadow, ok := c.Get("shadow")
	if !ok {
		t.Fatalf("shadow missing")
	}
	if !shadow.PriceSonic.Equal(decimal.RequireFromString("83.5")) {
		t.Fatalf("unexpected price: %s", shadow.PriceSonic)
	}
	ws, _ := c.Get("wsonic")
	if ws.Symbol != "WS" {
		t.Fatalf("symbol should be upper-cased, got %s", ws.Symbol)
	}
}

func TestResolve(t *testing.T) {
	c := loadSample(t)

	cases := map[string]string{
		"goglz": "goglz",
		"0x9fdbc3f8abc05fa8f3ad3c17d2f806c1230c4564": "goglz",
		"ws":      "wsonic",
		"goggles": "goglz",
		"wrapped": "wsonic",
	}
	for query, want := range cases {
		got, err := c.Resolve(query)
		if err != nil {
			t.Fatalf("resolve %q: %v", query, err)
		}
		if got.ID != want {
			t.Fatalf("resolve %q = %s, want %s", query, got.ID, want)
		}
	}

	if _, err := c.Resolve("shad"); !xerrors.IsCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected ambiguous match, got %v", err)
	}
	if _, err := c.Resolve("pepe"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.Resolve("  "); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestLeadersUsesStrictThreshold(t *testing.T) {
	c := loadSample(t)
	leaders := c.Leaders(decimal.NewFromInt(1_000_000), 5)
	if len(leaders) != 2 {
		t.Fatalf("expected 2 leaders above 1M, got %d", len(leaders))
	}
	if leaders[0].ID != "wsonic" || leaders[1].ID != "shadow" {
		t.Fatalf("unexpected order: %s, %s", leaders[0].ID, leaders[1].ID)
	}
}

func TestTopOnlyVerified(t *testing.T) {
	c := loadSample(t)
	top := c.Top(2)
	if len(top) != 2 || top[0].ID != "wsonic" || top[1].ID != "shadow" {
		t.Fatalf("unexpected top tokens: %+v", top)
	}
	for _, token := range c.Top(0) {
		if !token.Verified {
			t.Fatalf("unverified token %s in top list", token.ID)
		}
	}
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("empty path should not fail: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty catalog")
	}
}
