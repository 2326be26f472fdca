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
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebookincubator/itm-trace/itm"
	"github.com/facebookincubator/itm-trace/itm/itmserial"
	"github.com/facebookincubator/itm-trace/itm/itmstats"
)

var (
	streamDevice    string
	streamBaud      uint32
	streamMonitorAddr string
)

func init() {
	RootCmd.AddCommand(streamCmd)
	streamCmd.Flags().StringVar(&streamDevice, "device", "", "serial device the debug probe exposes SWO trace on")
	streamCmd.Flags().Uint32Var(&streamBaud, "baud", 115200, "SWO UART baud rate")
	streamCmd.Flags().StringVar(&streamMonitorAddr, "monitoringaddr", ":8889", "host:port to serve Prometheus metrics on")
	if err := streamCmd.MarkFlagRequired("device"); err != nil {
		log.Fatal(err)
	}
}

func stream() error {
	ConfigureVerbosity()

	port, err := itmserial.Open(streamDevice, streamBaud)
	if err != nil {
		return err
	}
	defer port.Close()

	collector := itmstats.NewStatsCollector()
	exporter := itmstats.NewPromExporter(collector)
	go serveMetrics(exporter)

	dec := itm.NewDecoder(port, itm.DecoderOptions{IgnoreEOF: true})
	enc := json.NewEncoder(os.Stdout)

	for {
		pkt, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var malformed *itm.MalformedPacketError
			if errors.As(err, &malformed) {
				collector.ObserveMalformed(malformed)
				log.Warnf("malformed packet: %v", malformed)
				continue
			}
			var ioErr *itm.IOError
			if errors.As(err, &ioErr) {
				collector.ObserveIOError(ioErr)
			}
			return err
		}

		collector.ObservePacket(pkt)
		if err := enc.Encode(pkt); err != nil {
			return err
		}
	}
}

func serveMetrics(exporter *itmstats.PromExporter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			exporter.Sync()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	if err := http.ListenAndServe(streamMonitorAddr, mux); err != nil {
		log.Errorf("metrics server stopped: %v", err)
	}
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "decode a live SWO trace stream from a debug probe's serial port",
	Run: func(cmd *cobra.Command, args []string) {
		if err := stream(); err != nil {
			log.Fatal(err)
		}
	},
}
