package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"hemtjan.st/han/cosem"
	"hemtjan.st/han/hdlc"
	"hemtjan.st/han/meter"
	"io"
	"os"
	"strings"
	"time"
)

var (
	analyzeCmd = &cobra.Command{
		Use:   "analyze [hex]",
		Short: "Decode a single frame given as hex",
		Long: "analyze decodes one frame, with or without its 0x7E flags, or a bare payload. " +
			"Without argument frames are read from stdin, one per line.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runInteractive(os.Stdin, cmd.OutOrStdout())
			}
			return runAnalyze(cmd.OutOrStdout(), args[0])
		},
	}

	analyzeShortFrameOwnSlot bool
)

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeShortFrameOwnSlot, "short-frame-own-slot", false, "Route list 1 power to its own slot")
}

type frameInfo struct {
	Offset      int64  `json:"offset"`
	Format      string `json:"format"`
	Segmented   bool   `json:"segmented"`
	Length      int    `json:"length"`
	Destination uint32 `json:"destination"`
	Source      uint32 `json:"source"`
	Control     string `json:"control"`
}

type pairInfo struct {
	Obis   cosem.Obis  `json:"obis"`
	Type   string      `json:"type"`
	Value  interface{} `json:"value"`
	Scaler *int8       `json:"scaler,omitempty"`
	Unit   cosem.Unit  `json:"unit,omitempty"`
	Offset int         `json:"offset"`
}

type report struct {
	Frame      *frameInfo    `json:"frame,omitempty"`
	LinkErrors []string      `json:"link_errors,omitempty"`
	InvokeID   uint32        `json:"invoke_id"`
	Timestamp  *time.Time    `json:"timestamp,omitempty"`
	List       cosem.List    `json:"list"`
	Positional bool          `json:"positional,omitempty"`
	Pairs      []pairInfo    `json:"pairs"`
	Fields     []meter.Field `json:"fields"`
	Errors     []string      `json:"errors,omitempty"`
}

func runInteractive(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	// Lists with all registers are well above the default token size in hex
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	logrus.Info("han analyze mode. Paste a hex frame and press Enter (Ctrl+D to exit).")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runAnalyze(out, line); err != nil {
			logrus.WithError(err).Error("failed to decode frame")
		}
	}
	return scanner.Err()
}

func runAnalyze(out io.Writer, raw string) error {
	rep, err := analyze(raw, meter.Config{ShortFrameOwnSlot: analyzeShortFrameOwnSlot})
	if rep != nil {
		b, merr := json.MarshalIndent(rep, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Fprintln(out, string(b))
	}
	return err
}

// parseHex accepts hex with spaces, colons and 0x prefixes.
func parseHex(raw string) ([]byte, error) {
	s := strings.NewReplacer(" ", "", "\t", "", ":", "", "0x", "", "0X", "").Replace(strings.TrimSpace(raw))
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("empty input")
	}
	return b, nil
}

// analyze decodes raw into a report. The report is returned along with
// decode errors so that partial results can be shown.
func analyze(raw string, cfg meter.Config) (*report, error) {
	data, err := parseHex(raw)
	if err != nil {
		return nil, err
	}

	rep := &report{Pairs: []pairInfo{}, Fields: []meter.Field{}}
	payload := data
	decode := cosem.Decode
	switch {
	case isBody(data):
		decode = cosem.DecodeBody
	case data[0] == 0x7e || looksLikeFrame(data):
		fr, errs := extractFrame(data)
		for _, e := range errs {
			rep.LinkErrors = append(rep.LinkErrors, e.Error())
		}
		if fr == nil {
			return rep, errors.New("no valid frame found")
		}
		rep.Frame = &frameInfo{
			Offset:      fr.Offset,
			Format:      fmt.Sprintf("0x%04X", fr.Format),
			Segmented:   fr.Segmented,
			Length:      fr.Length,
			Destination: fr.Destination,
			Source:      fr.Source,
			Control:     fmt.Sprintf("0x%02X", fr.Control),
		}
		payload = fr.Info
	}

	f, derr := decode(payload)
	if f == nil {
		return rep, derr
	}
	rep.InvokeID = f.InvokeID
	if !f.Timestamp.IsZero() {
		rep.Timestamp = &f.Timestamp
	}
	rep.List = f.List
	rep.Positional = f.Positional
	for _, p := range f.Pairs {
		pi := pairInfo{
			Obis:   p.Obis,
			Type:   p.Value.Tag.String(),
			Value:  p.Value.Value(),
			Offset: p.Offset,
		}
		if p.Scale != nil {
			scaler := p.Scale.Scaler
			pi.Scaler = &scaler
			pi.Unit = p.Scale.Unit
		}
		rep.Pairs = append(rep.Pairs, pi)
	}

	c := &meter.Collector{}
	ferr := meter.NewDispatcher(c, cfg).Dispatch(f)
	rep.Fields = append(rep.Fields, c.Fields...)

	err = errors.Join(derr, ferr)
	if err != nil {
		rep.Errors = append(rep.Errors, errorList(err)...)
	}
	return rep, err
}

// isBody reports whether b is a bare data element, as printed by tools
// that strip the APDU envelope.
func isBody(b []byte) bool {
	return b[0] == byte(cosem.TagArray) || b[0] == byte(cosem.TagStructure)
}

// looksLikeFrame reports whether b is a frame with its flags stripped.
func looksLikeFrame(b []byte) bool {
	if len(b) < 9 || b[0]&0xf0 != 0xa0 {
		return false
	}
	length := int(b[0]&0x07)<<8 | int(b[1])
	return length == len(b)
}

// extractFrame returns the first valid frame in b along with the link
// errors met on the way.
func extractFrame(b []byte) (*hdlc.Frame, []error) {
	if b[0] != 0x7e {
		b = append(append([]byte{0x7e}, b...), 0x7e)
	} else if b[len(b)-1] != 0x7e {
		b = append(b, 0x7e)
	}

	f := hdlc.NewFramer(hdlc.WithMaxFrameLength(0x7ff))
	_, _ = f.Write(b)
	var errs []error
	for {
		fr, err := f.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return fr, errs
	}
}

func errorList(err error) []string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, errorList(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
