package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"

	"github.com/telehealth/rxdesk/internal/config"
	"github.com/telehealth/rxdesk/internal/domain/patient"
	"github.com/telehealth/rxdesk/internal/domain/soapnote"
	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/internal/platform/pharmacy"
)

func TestResolveSigningKey_FromEnv(t *testing.T) {
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	hexStr := hex.EncodeToString(want)

	key, random, err := resolveSigningKey(hexStr, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if random {
		t.Error("expected random=false when env var is set")
	}
	if hex.EncodeToString(key) != hexStr {
		t.Errorf("key mismatch: got %x, want %x", key, want)
	}
}

func TestResolveSigningKey_InvalidHex(t *testing.T) {
	if _, _, err := resolveSigningKey("not-valid-hex!!!", true); err == nil {
		t.Fatal("expected error for invalid hex, got nil")
	}
}

func TestResolveSigningKey_RandomInDevelopment(t *testing.T) {
	key, random, err := resolveSigningKey("", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !random || len(key) != 32 {
		t.Fatalf("expected a random 32-byte key, got %d bytes (random=%v)", len(key), random)
	}
	key2, _, _ := resolveSigningKey("", true)
	if bytes.Equal(key, key2) {
		t.Error("two random keys should not be identical")
	}
}

func TestResolveSigningKey_NoneOutsideDevelopment(t *testing.T) {
	key, random, err := resolveSigningKey("", false)
	if err != nil || random || key != nil {
		t.Errorf("expected no key outside development, got %x random=%v err=%v", key, random, err)
	}
}

func TestMigrationFS_Embedded(t *testing.T) {
	migrations, err := db.NewMigrator(nil, migrationFS("")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
	}
}

func TestMigrationFS_Dir(t *testing.T) {
	dir := t.TempDir()
	fsys := migrationFS(dir)
	if _, err := fs.ReadDir(fsys, "."); err != nil {
		t.Fatalf("expected readable dir fs: %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	migrations, _ := db.NewMigrator(nil, fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
	}).LoadMigrations()
	var buf bytes.Buffer
	printStatus(&buf, "tenant_default", []db.MigrationStatus{
		{Version: migrations[0].Version, Name: migrations[0].Name},
	})
	if !strings.Contains(buf.String(), "001_a.sql") || !strings.Contains(buf.String(), "pending") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestAddressCheck_Stdin(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(`{"address1":"12 Oak St","city":"Apt 3","state":"78701","zip":"Texas"}`))
	root.SetArgs([]string{"address", "check"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var res patient.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	want := patient.Address{Address1: "12 Oak St", Address2: "Apt 3", State: "TX", Zip: "78701"}
	if res.Address != want || !res.Changed {
		t.Errorf("got %+v, want %+v", res.Address, want)
	}
}

func TestAddressCheck_Flags(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"address", "check", "--address1", "1 Main St", "--city", "Salem", "--state", "oregon", "--zip", "97301"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var res patient.Result
	json.Unmarshal(out.Bytes(), &res)
	if res.Address.State != "OR" {
		t.Errorf("expected OR, got %+v", res.Address)
	}
}

func TestNewPharmacyRouter(t *testing.T) {
	if _, ok := newPharmacyRouter(&config.Config{}, nil, zerolog.Nop()).(pharmacy.LocalRouter); !ok {
		t.Error("expected the local router without PHARMACY_BASE_URL")
	}
	cfg := &config.Config{PharmacyBaseURL: "https://pharmacy.example.com", PharmacyMaxAttempts: 3}
	if _, ok := newPharmacyRouter(cfg, nil, zerolog.Nop()).(*pharmacy.Client); !ok {
		t.Error("expected the HTTP client with PHARMACY_BASE_URL")
	}
}

func TestNewGenerator(t *testing.T) {
	if _, ok := newGenerator(&config.Config{}).(soapnote.TemplateGenerator); !ok {
		t.Error("expected the template generator by default")
	}
	if _, ok := newGenerator(&config.Config{SoapGeneratorURL: "http://drafts.local/soap"}).(*soapnote.HTTPGenerator); !ok {
		t.Error("expected the HTTP generator when SOAP_GENERATOR_URL is set")
	}
}

func TestNewDispatcher(t *testing.T) {
	d, err := newDispatcher(&config.Config{
		WebhookURLs:   []string{"https://hooks.example.com/rx|prescription.*"},
		WebhookSecret: "s3cret",
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Endpoints()) != 1 {
		t.Errorf("expected 1 endpoint, got %d", len(d.Endpoints()))
	}

	if _, err := newDispatcher(&config.Config{WebhookURLs: []string{"ftp://nope"}, WebhookSecret: "x"}, nil, zerolog.Nop()); err == nil {
		t.Error("expected an error for an invalid endpoint URL")
	}
}
