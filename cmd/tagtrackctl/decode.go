package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/internal/runtime"
	"github.com/signalsfoundry/tagtrack/kb"
	"github.com/signalsfoundry/tagtrack/model"
)

type decodeOptions struct {
	format   string
	metadata string
	zone     string
}

type decodedRecord struct {
	Kind   string       `json:"kind"`
	Record model.Record `json:"record"`
}

type decodedMessage struct {
	Header  model.Header    `json:"header"`
	Records []decodedRecord `json:"records"`
	Error   string          `json:"error,omitempty"`
}

func newDecodeCmd(root *rootOptions) *cobra.Command {
	opts := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [frame]",
		Short: "Decode one frame to JSON",
		Long: "Decode a frame given as an argument or on stdin. The input is base64 by\n" +
			"default; use --format hex for hex strings or --format envelope for the\n" +
			"JSON payload published by station gateways.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			frame, err := parseFrame(opts.format, input)
			if err != nil {
				return err
			}

			var meta *kb.Metadata
			if opts.metadata != "" {
				if meta, err = kb.LoadMetadataFile(opts.metadata); err != nil {
					return err
				}
			}
			asm, err := runtime.NewAssembler(config.TimeConfig{Zone: opts.zone}, meta, root.logger())
			if err != nil {
				return err
			}

			msg, err := asm.Assemble(cmd.Context(), frame)
			if msg == nil {
				return err
			}
			out := decodedMessage{Header: msg.Header}
			for _, r := range msg.Records {
				out.Records = append(out.Records, decodedRecord{Kind: r.Kind().String(), Record: r})
			}
			if err != nil {
				out.Error = err.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "base64", "input format (base64, hex, envelope)")
	cmd.Flags().StringVarP(&opts.metadata, "metadata", "m", "", "metadata file providing tag calibration factors")
	cmd.Flags().StringVar(&opts.zone, "zone", "UTC", "time zone for record dates")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", errors.New("no frame given")
	}
	return s, nil
}

func parseFrame(format, input string) ([]byte, error) {
	switch format {
	case "base64":
		return base64.StdEncoding.DecodeString(input)
	case "hex":
		return hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(input, " ", ""), "0x"))
	case "envelope":
		_, frame, err := ingest.DecodeEnvelope([]byte(input))
		return frame, err
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
