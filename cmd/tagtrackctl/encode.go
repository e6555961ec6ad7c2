package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/telemetry"
)

type encodeOptions struct {
	station  uint16
	ref      int64
	protocol string
	det      telemetry.Detection
	format   string
	snr      float64
}

func newEncodeCmd() *cobra.Command {
	opts := &encodeOptions{}
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a frame carrying one tag detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := model.ParseProtocol(opts.protocol)
			if err != nil {
				return err
			}
			opts.det.Protocol = p
			frame, err := telemetry.NewFrameBuilder(model.StationID(opts.station), opts.ref).
				AddDetection(opts.det).
				Bytes()
			if err != nil {
				return err
			}

			var out string
			switch opts.format {
			case "base64":
				out = base64.StdEncoding.EncodeToString(frame)
			case "hex":
				out = hex.EncodeToString(frame)
			case "envelope":
				b, err := ingest.EncodeEnvelope(frame, opts.snr)
				if err != nil {
					return err
				}
				out = string(b)
			default:
				return fmt.Errorf("unknown format %q", opts.format)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	f := cmd.Flags()
	f.Uint16Var(&opts.station, "station", 0, "station id")
	f.Int64Var(&opts.ref, "ref", 0, "reference timestamp (epoch seconds)")
	f.StringVar(&opts.protocol, "protocol", "S256", "tag protocol")
	f.IntVar(&opts.det.Band, "band", 69, "frequency band in kHz")
	f.Uint32Var(&opts.det.TagID, "tag", 0, "tag id")
	f.Uint8Var(&opts.det.Relative, "rel", 0, "timestamp relative to the reference")
	f.IntVar(&opts.det.Millisecond, "ms", 0, "millisecond of arrival")
	f.Uint8Var(&opts.det.SNR, "snr", 0, "detection signal to noise ratio")
	f.Uint16Var(&opts.det.RawData, "data", 0, "raw sensor value")
	f.Uint16Var(&opts.det.RawData2, "data2", 0, "second raw sensor value (DS256)")
	f.StringVarP(&opts.format, "format", "f", "base64", "output format (base64, hex, envelope)")
	f.Float64Var(&opts.snr, "envelope-snr", 0, "gateway SNR written into the envelope")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}
