package ingest

import (
	"regexp"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cowrie"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
)

// sshKeyRE matches a public key in the authorized_keys wire format, the
// shape attackers echo into ~/.ssh/authorized_keys.
var sshKeyRE = regexp.MustCompile(
	`(ssh-(?:rsa|dss|ed25519)|ecdsa-sha2-nistp(?:256|384|521))\s+([A-Za-z0-9+/=]{40,})(?:\s+([^\s"']+))?`)

// extractFacts appends the specialized fact observations an event
// carries to the batch: injected SSH keys, credential uses, and file
// transfers.
func extractFacts(b *datastore.Batch, ev *cowrie.Event, at time.Time, keepPasswordText bool) {
	switch ev.EventID {
	case cowrie.EventClientFingerprint:
		key, _ := ev.Raw["key"].(string)
		b.SSHKeys = append(b.SSHKeys, datastore.SSHKeyObservation{
			SessionID:   ev.Session,
			SrcIP:       ev.SrcIP,
			KeyType:     ev.KeyType,
			KeyData:     key,
			Fingerprint: ev.Fingerprint,
			SeenAt:      at,
		})
	case cowrie.EventLoginSuccess, cowrie.EventLoginFailed:
		obs := datastore.PasswordObservation{
			SessionID:    ev.Session,
			Username:     ev.Username,
			PasswordHash: cowrieprocessor.CacheKeyHash(ev.Password),
			SeenAt:       at,
		}
		if keepPasswordText {
			obs.PasswordText = ev.Password
		}
		b.Passwords = append(b.Passwords, obs)
	case cowrie.EventFileDownload, cowrie.EventFileUpload:
		if ev.Shasum == "" {
			return
		}
		var size int64
		if f, ok := ev.Raw["size"].(float64); ok {
			size = int64(f)
		}
		b.Files = append(b.Files, datastore.FileObservation{
			SessionID: ev.Session,
			SHA256:    ev.Shasum,
			URL:       ev.URL,
			Size:      size,
			SeenAt:    at,
		})
	case cowrie.EventCommandInput:
		for _, m := range sshKeyRE.FindAllStringSubmatch(ev.Input, -1) {
			b.SSHKeys = append(b.SSHKeys, datastore.SSHKeyObservation{
				SessionID: ev.Session,
				SrcIP:     ev.SrcIP,
				KeyType:   m[1],
				KeyData:   m[2],
				Comment:   m[3],
				SeenAt:    at,
			})
		}
	}
}
