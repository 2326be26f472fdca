/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebookincubator/itm-trace/itm"
	"github.com/facebookincubator/itm-trace/itm/itmstats"
	"github.com/facebookincubator/itm-trace/itm/tstrace"
)

var (
	decodeInputFile   string
	decodeClockHz     uint32
	decodePrescaler   uint8
	decodeIgnoreBad   bool
)

func init() {
	RootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&decodeInputFile, "input", "", "path to a recorded trace file, or empty for stdin")
	decodeCmd.Flags().Uint32Var(&decodeClockHz, "clock-hz", 0, "target core clock frequency in Hz, enables timestamp reconstruction")
	decodeCmd.Flags().Uint8Var(&decodePrescaler, "prescaler", 1, "DWT local timestamp prescaler: 1, 4, 16 or 64")
	decodeCmd.Flags().BoolVar(&decodeIgnoreBad, "ignore-malformed", true, "skip malformed packets instead of aborting")
}

func decode() error {
	ConfigureVerbosity()

	r := io.Reader(os.Stdin)
	if decodeInputFile != "" {
		f, err := os.Open(decodeInputFile)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	dec := itm.NewDecoder(r, itm.DecoderOptions{})
	enc := json.NewEncoder(os.Stdout)

	if decodeClockHz == 0 {
		return decodeRaw(dec, enc)
	}

	prescaler, err := prescalerFromDivisor(decodePrescaler)
	if err != nil {
		return err
	}
	eng, err := tstrace.NewEngine(dec, tstrace.Config{
		ClockFrequencyHz: decodeClockHz,
		LTSPrescaler:     prescaler,
		ExpectMalformed:  decodeIgnoreBad,
	})
	if err != nil {
		return err
	}

	collector := itmstats.NewStatsCollector()
	if err := decodeTimestamped(eng, enc, collector); err != nil {
		return err
	}
	snap := collector.Snapshot()
	var groups uint64
	for _, n := range snap.TimestampQuality {
		groups += n
	}
	log.Infof("decoded %d groups, %d packets consumed, timestamp quality %v",
		groups, snap.ConsumedPackets, snap.TimestampQuality)
	return nil
}

func decodeRaw(dec *itm.Decoder, enc *json.Encoder) error {
	for {
		pkt, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var malformed *itm.MalformedPacketError
			if errors.As(err, &malformed) && decodeIgnoreBad {
				log.Warnf("skipping malformed packet: %v", malformed)
				continue
			}
			return err
		}
		if err := enc.Encode(pkt); err != nil {
			return err
		}
	}
}

// decodeTimestamped drains eng group by group, emitting each data packet
// stamped with the group's Timestamp, logging any malformed markers the
// engine tolerated, and feeding throughput/quality stats into collector.
func decodeTimestamped(eng *tstrace.Engine, enc *json.Encoder, collector *itmstats.StatsCollector) error {
	for {
		group, err := eng.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// A *itm.MalformedPacketError only reaches here when
			// ExpectMalformed is false: the engine already buffers
			// tolerated markers into group.MalformedPackets instead of
			// returning them as an error.
			var malformed *itm.MalformedPacketError
			if errors.As(err, &malformed) {
				collector.ObserveMalformed(malformed)
			}
			return err
		}

		for _, m := range group.MalformedPackets {
			log.Warnf("tolerated malformed packet: %v", m)
		}
		collector.ObserveGroup(group.Timestamp.Relation, group.ConsumedPackets, group.Packets, group.MalformedPackets)

		for _, pkt := range group.Packets {
			if err := enc.Encode(tstrace.TimestampedTracePacket{Packet: pkt, Timestamp: group.Timestamp}); err != nil {
				return err
			}
		}
	}
}

func prescalerFromDivisor(div uint8) (tstrace.Prescaler, error) {
	switch div {
	case 1:
		return tstrace.PrescalerEnabled, nil
	case 4:
		return tstrace.PrescalerEnabledDiv4, nil
	case 16:
		return tstrace.PrescalerEnabledDiv16, nil
	case 64:
		return tstrace.PrescalerEnabledDiv64, nil
	default:
		return 0, errors.New("itmdump: --prescaler must be one of 1, 4, 16, 64")
	}
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "decode a recorded trace file to newline-delimited JSON",
	Run: func(cmd *cobra.Command, args []string) {
		if err := decode(); err != nil {
			log.Fatal(err)
		}
	},
}
