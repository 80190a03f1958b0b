package cowrie

import "strings"

// Substrings in command input that indicate staging or persistence
// activity. Matching is cumulative; each group adds to the risk score.
var (
	riskFetch   = []string{"wget ", "curl ", "tftp ", "ftpget"}
	riskExec    = []string{"chmod +x", "chmod 777", "sh -c", "| sh", "|sh", "&& sh"}
	riskPersist = []string{"authorized_keys", "crontab", "/etc/rc.local", ".bashrc", "systemctl enable"}
	riskRecon   = []string{"/proc/cpuinfo", "uname -a", "nproc", "lscpu", "/etc/passwd"}
	riskWipe    = []string{"rm -rf", "history -c", "dd if=/dev/zero"}
)

// RiskScore assigns a 0..100 heuristic to a single event. Scores at or
// above the quarantine threshold mark the stored event quarantined without
// suppressing it.
func RiskScore(ev *Event) int {
	score := 0
	switch ev.EventID {
	case EventLoginSuccess:
		score = 25
	case EventLoginFailed:
		score = 5
	case EventFileDownload, EventFileUpload:
		score = 60
	case EventClientFingerprint:
		score = 40
	case EventCommandInput, EventCommandFailed:
		score = 15
	case EventSessionConnect, EventSessionClosed, EventClientVersion:
		score = 0
	default:
		score = 5
	}
	if ev.Input != "" {
		in := strings.ToLower(ev.Input)
		for _, group := range [][]string{riskFetch, riskExec, riskPersist, riskRecon, riskWipe} {
			for _, needle := range group {
				if strings.Contains(in, needle) {
					score += 20
					break
				}
			}
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}
