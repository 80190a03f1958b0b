package ingest

import (
	"testing"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cowrie"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
)

func TestExtractFacts(t *testing.T) {
	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Fingerprint", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid":     cowrie.EventClientFingerprint,
			"session":     "a",
			"src_ip":      "192.0.2.1",
			"fingerprint": "SHA256:abcdef",
			"type":        "ssh-ed25519",
			"key":         "AAAAC3NzaC1lZDI1NTE5AAAAIEx4mple",
		})
		extractFacts(&b, ev, at, false)
		if len(b.SSHKeys) != 1 {
			t.Fatalf("got %d key observations, want 1", len(b.SSHKeys))
		}
		k := b.SSHKeys[0]
		if k.Fingerprint != "SHA256:abcdef" || k.KeyType != "ssh-ed25519" || k.KeyData == "" {
			t.Errorf("key observation: %+v", k)
		}
	})

	t.Run("LoginHashOnly", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid":  cowrie.EventLoginFailed,
			"session":  "a",
			"username": "root",
			"password": "123456",
		})
		extractFacts(&b, ev, at, false)
		if len(b.Passwords) != 1 {
			t.Fatalf("got %d password observations, want 1", len(b.Passwords))
		}
		p := b.Passwords[0]
		if p.PasswordHash != cowrieprocessor.CacheKeyHash("123456") {
			t.Errorf("hash mismatch: %q", p.PasswordHash)
		}
		if p.PasswordText != "" {
			t.Error("cleartext retained without opt-in")
		}
	})

	t.Run("LoginRetainText", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid":  cowrie.EventLoginSuccess,
			"session":  "a",
			"username": "root",
			"password": "123456",
		})
		extractFacts(&b, ev, at, true)
		if b.Passwords[0].PasswordText != "123456" {
			t.Errorf("cleartext not retained: %+v", b.Passwords[0])
		}
	})

	t.Run("DownloadWithoutHashSkipped", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid": cowrie.EventFileDownload,
			"session": "a",
			"url":     "http://203.0.113.5/bot.sh",
		})
		extractFacts(&b, ev, at, false)
		if len(b.Files) != 0 {
			t.Errorf("observation without a digest recorded: %+v", b.Files)
		}
	})

	t.Run("Download", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid": cowrie.EventFileDownload,
			"session": "a",
			"url":     "http://203.0.113.5/bot.sh",
			"shasum":  "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			"size":    float64(1337),
		})
		extractFacts(&b, ev, at, false)
		if len(b.Files) != 1 || b.Files[0].Size != 1337 {
			t.Errorf("file observation: %+v", b.Files)
		}
	})

	t.Run("InjectedAuthorizedKey", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid": cowrie.EventCommandInput,
			"session": "a",
			"src_ip":  "192.0.2.1",
			"input": `echo "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABgQCargocargocargocargo attacker@kali" >> ~/.ssh/authorized_keys`,
		})
		extractFacts(&b, ev, at, false)
		if len(b.SSHKeys) != 1 {
			t.Fatalf("got %d injected keys, want 1", len(b.SSHKeys))
		}
		k := b.SSHKeys[0]
		if k.KeyType != "ssh-rsa" || k.Comment != "attacker@kali" {
			t.Errorf("injected key: %+v", k)
		}
	})

	t.Run("PlainCommandNoFacts", func(t *testing.T) {
		var b datastore.Batch
		ev := cowrie.FromMap(map[string]any{
			"eventid": cowrie.EventCommandInput,
			"session": "a",
			"input":   "uname -a",
		})
		extractFacts(&b, ev, at, false)
		if len(b.SSHKeys)+len(b.Passwords)+len(b.Files) != 0 {
			t.Errorf("facts extracted from a plain command: %+v", b)
		}
	})
}
