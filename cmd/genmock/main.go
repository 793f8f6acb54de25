// Command genmock writes sample dispatch attachments and alarm mails for
// local testing. Each incident is written as a bare XML attachment and as a
// complete .eml message carrying it, ready to be appended to a test mailbox.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out testdata/mock \
//	  -stations Wache1,Wache2,Wache3 \
//	  -count 5 -seed 42
package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
)

var baseDate = time.Date(2024, time.May, 3, 14, 0, 0, 0, time.FixedZone("CEST", 2*60*60))

var (
	keywords = []string{"B1 Kleinbrand", "B2 Wohnungsbrand", "TH1 Baum auf Straße", "TH2 VU eingeklemmt", "ABC1 Gasgeruch", "RD1 Notfall"}
	cities   = []string{"Musterstadt", "Beispielheim", "Neudorf"}
	streets  = []string{"Hauptstraße", "Bahnhofstraße", "Am Markt", "Lindenweg", "Schulstraße"}
	scenes   = []string{"Rauch aus Fenster", "Person eingeklemmt", "Baum blockiert Fahrbahn", "Gasgeruch im Keller", "Person gestürzt"}
	units    = []string{"HLF", "LF", "DLK", "RW", "ELW"}
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory")
	stations := flag.String("stations", "Wache1,Wache2", "comma-separated station names to alert")
	count := flag.Int("count", 3, "number of incidents to generate")
	seed := flag.Uint64("seed", 1, "random seed for reproducible output")
	closing := flag.Bool("closing", true, "also write an Einsatzabschluss mail the relay must ignore")
	flag.Parse()

	if *out == "" || *count < 1 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -count >= 1")
	}

	names := splitNames(*stations)
	if len(names) == 0 {
		return fmt.Errorf("no station names given")
	}
	if err := os.MkdirAll(*out, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	for i := 1; i <= *count; i++ {
		inc := generate(rng, i, names)
		doc := inc.xml()

		xmlPath := filepath.Join(*out, inc.filename())
		if err := os.WriteFile(xmlPath, doc, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", xmlPath, err)
		}

		emlPath := strings.TrimSuffix(xmlPath, ".xml") + ".eml"
		if err := writeMail(emlPath, "Alarmierung "+inc.number, inc.sentAt, inc.summary(), inc.filename(), doc); err != nil {
			return fmt.Errorf("write %s: %w", emlPath, err)
		}
		log.Printf("%s: %s in %s, stations %s", inc.number, inc.fields[domain.FieldKeyword], inc.fields[domain.FieldCity], strings.Join(inc.alerted, ", "))
	}

	if *closing {
		inc := generate(rng, *count+1, names)
		path := filepath.Join(*out, "einsatzabschluss.eml")
		if err := writeMail(path, "Einsatzabschluss "+inc.number, inc.sentAt, "Einsatz beendet", inc.filename(), inc.xml()); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.Printf("wrote closing mail: %s", path)
	}

	log.Printf("wrote %d incidents to %s", *count, *out)
	return nil
}

type incident struct {
	number  string
	sentAt  time.Time
	fields  [domain.FieldCount]string
	alerted []string
	extra   []domain.Entry
}

func generate(rng *rand.Rand, seq int, stations []string) incident {
	sentAt := baseDate.Add(time.Duration(seq*37) * time.Minute)
	inc := incident{
		number: fmt.Sprintf("%d-%05d", sentAt.Year(), 800+seq),
		sentAt: sentAt,
	}

	f := &inc.fields
	f[domain.FieldIncidentNumber] = inc.number
	f[domain.FieldDate] = sentAt.Format("02.01.2006 15:04")
	f[domain.FieldKeyword] = pick(rng, keywords)
	f[domain.FieldScene] = pick(rng, scenes)
	f[domain.FieldCity] = pick(rng, cities)
	f[domain.FieldDistrict] = pick(rng, []string{"Nord", "Süd", "Mitte", ""})
	f[domain.FieldStreet] = pick(rng, streets)
	f[domain.FieldHouseNumber] = fmt.Sprint(1 + rng.IntN(80))
	f[domain.FieldLatitude] = fmt.Sprintf("%.5f", 50.0+rng.Float64()/2)
	f[domain.FieldLongitude] = fmt.Sprintf("%.5f", 8.5+rng.Float64()/2)

	// One or two stations are alerted through the unit list.
	n := 1 + rng.IntN(min(2, len(stations)))
	perm := rng.Perm(len(stations))
	var unitList []string
	for _, idx := range perm[:n] {
		inc.alerted = append(inc.alerted, stations[idx])
		unitList = append(unitList, pick(rng, units)+" "+stations[idx])
	}
	inc.extra = []domain.Entry{{Key: "Einsatzmittel", Value: strings.Join(unitList, ", ")}}
	return inc
}

func (inc incident) filename() string {
	return "alarm_" + inc.number + ".xml"
}

func (inc incident) summary() string {
	return fmt.Sprintf("Einsatz %s\n%s\n%s, %s", inc.number, inc.fields[domain.FieldKeyword], inc.fields[domain.FieldStreet], inc.fields[domain.FieldCity])
}

// xml renders the incident in the dispatch system's Column layout.
func (inc incident) xml() []byte {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Einsatz>\n")
	for i, label := range domain.HeaderLabels {
		writeColumn(&b, label, inc.fields[i])
	}
	for _, e := range inc.extra {
		writeColumn(&b, e.Key, e.Value)
	}
	b.WriteString("</Einsatz>\n")
	return []byte(b.String())
}

func writeColumn(w io.Writer, name, value string) {
	fmt.Fprintf(w, "  <Column name=%q value=\"", name)
	xml.EscapeText(w, []byte(value)) //nolint:errcheck // strings.Builder never fails
	fmt.Fprint(w, "\"/>\n")
}

func writeMail(path, subject string, date time.Time, body, attachmentName string, attachment []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var h mail.Header
	h.SetDate(date)
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: "Integrierte Leitstelle", Address: "leitstelle@example.org"}})
	h.SetAddressList("To", []*mail.Address{{Address: "alarm@example.org"}})

	mw, err := mail.CreateWriter(f, h)
	if err != nil {
		return fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline part: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("text/xml", map[string]string{"charset": "utf-8"})
	ah.SetFilename(attachmentName)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	if _, err := aw.Write(attachment); err != nil {
		return err
	}
	if err := aw.Close(); err != nil {
		return err
	}
	return mw.Close()
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

func splitNames(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
