// Command validate is an offline dry run of the relay. It reads dispatch
// attachments (.xml) or whole alarm mails (.eml), runs them through the same
// extraction, matching and rendering as the relay, and reports which chats
// would be alerted. Nothing is sent.
//
// Stations default to WACHEN, TELEGRAM_CHATIDS and BOT_CHATIDS from the
// environment or a .env file.
//
// Usage:
//
//	go run ./cmd/validate -v testdata/mock/*.eml
//	go run ./cmd/validate -stations Wache1,Wache2 alarm.xml
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/mailbox"
)

// phase tracks pass/fail for one input file.
type phase struct {
	name   string
	notes  []string
	errors []string
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	_ = godotenv.Load()

	stations := flag.String("stations", sharedcfg.EnvOrDefault("WACHEN", ""), "comma-separated station names")
	primary := flag.String("chats", os.Getenv("TELEGRAM_CHATIDS"), "comma-separated primary chat ids, aligned with -stations")
	bot := flag.String("bots", os.Getenv("BOT_CHATIDS"), "comma-separated bot chat ids, aligned with -stations")
	verbose := flag.Bool("v", false, "print the rendered messages")
	flag.Parse()

	if flag.NArg() == 0 || *stations == "" {
		flag.Usage()
		os.Exit(1)
	}

	names := splitList(*stations)
	reg, err := domain.NewRegistry(names, alignList(*primary, len(names)), alignList(*bot, len(names)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(reg, flag.Args(), *verbose))
}

func run(reg *domain.Registry, paths []string, verbose bool) int {
	fmt.Println("=== Alarm Relay Dry Run ===")
	fmt.Printf("Stations: %s\n\n", strings.Join(reg.Stations(), ", "))

	var phases []*phase
	for _, path := range paths {
		phases = append(phases, checkFile(reg, path, verbose)...)
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
		for _, n := range p.notes {
			fmt.Printf("      %s\n", n)
		}
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll attachments passed.")
		return 0
	}
	fmt.Println("\nDry run FAILED.")
	return 1
}

// checkFile returns one phase per attachment found in path.
func checkFile(reg *domain.Registry, path string, verbose bool) []*phase {
	data, err := os.ReadFile(path)
	if err != nil {
		p := &phase{name: filepath.Base(path)}
		p.errorf("read: %v", err)
		return []*phase{p}
	}

	if !strings.EqualFold(filepath.Ext(path), ".eml") {
		return []*phase{checkAttachment(reg, filepath.Base(path), data, verbose)}
	}

	attachments, err := mailbox.Attachments(data)
	if err != nil {
		p := &phase{name: filepath.Base(path)}
		p.errorf("read mail: %v", err)
		return []*phase{p}
	}
	if len(attachments) == 0 {
		p := &phase{name: filepath.Base(path)}
		p.notef("no attachment, the relay would mark it seen and skip it")
		return []*phase{p}
	}

	phases := make([]*phase, 0, len(attachments))
	for _, a := range attachments {
		phases = append(phases, checkAttachment(reg, filepath.Base(path)+"/"+a.Filename, a.Data, verbose))
	}
	return phases
}

func checkAttachment(reg *domain.Registry, name string, data []byte, verbose bool) *phase {
	p := &phase{name: name}

	rec, err := domain.Extract(bytes.NewReader(data), name)
	if err != nil {
		if errors.Is(err, domain.ErrParse) {
			p.errorf("unparseable attachment, the relay would drop it: %v", err)
		} else {
			p.errorf("%v", err)
		}
		return p
	}

	if len(rec.Entries) < domain.FieldCount {
		p.notef("only %d of %d template fields present", len(rec.Entries), domain.FieldCount)
	}
	if rec.Number() == "" {
		p.errorf("empty incident number")
	}
	if !rec.HasCoordinates() {
		p.notef("no coordinates, map links stay empty")
	}

	stations := domain.Match(rec, reg)
	if len(stations) == 0 {
		p.notef("incident %s matches no station", rec.Number())
		return p
	}

	alert := domain.Render(rec)
	for _, s := range stations {
		for _, kind := range []domain.ChannelKind{domain.ChannelBot, domain.ChannelPrimary} {
			chatID, ok := reg.Lookup(s, kind)
			if !ok {
				p.notef("%s: no %s chat configured, would be skipped", s, kind)
				continue
			}
			p.notef("%s: %s message to %s", s, kind, chatID)
		}
		if verbose {
			p.notef("--- %s full ---\n%s", s, indent(alert.ForStation(s)))
		}
	}
	if verbose {
		p.notef("--- bot ---\n%s", indent(alert.Bot))
	}
	return p
}

func indent(s string) string {
	return "        " + strings.ReplaceAll(s, "\n", "\n        ")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// alignList pads or trims an id list to n entries so a dry run works with
// stations only.
func alignList(s string, n int) []string {
	out := make([]string, n)
	if s == "" {
		return out
	}
	copy(out, splitList(s))
	return out
}
