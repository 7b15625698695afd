// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type metricCollector struct {
	m []prometheus.Metric
}

func (mc *metricCollector) Collect(c chan<- prometheus.Metric) {
	for _, m := range mc.m {
		c <- m
	}
}

func (mc *metricCollector) Describe(c chan<- *prometheus.Desc) {
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func outputMetrics(state Devices) {
	var (
		mDriveInfo = prometheus.NewDesc(
			"tcg_opal_drive_info",
			"Info metric regarding the detected drives",
			[]string{"device", "model", "serial", "firmware"}, nil,
		)
		mOpalSupported = prometheus.NewDesc(
			"tcg_opal_supported",
			"Boolean describing whether a drive supports Opal SSC 1 or 2",
			[]string{"device"}, nil,
		)
		mSSCSupported = prometheus.NewDesc(
			"tcg_opal_ssc_supported",
			"Boolean describing whether a particular SSC is supported by the drive or not",
			[]string{"device", "ssc"}, nil,
		)
		mLockingEnabled = prometheus.NewDesc(
			"tcg_opal_locking_enabled",
			"Boolean describing whether the drive is reporting range locking has been enabled",
			[]string{"device"}, nil,
		)
		mLocked = prometheus.NewDesc(
			"tcg_opal_locked",
			"Boolean describing whether any range on the drive is currently locked",
			[]string{"device"}, nil,
		)
		mMBRDone = prometheus.NewDesc(
			"tcg_opal_mbr_done",
			"Boolean describing whether the MBR shadow is hidden",
			[]string{"device"}, nil,
		)
	)
	mc := &metricCollector{}
	for _, s := range state {
		mc.m = append(mc.m,
			prometheus.MustNewConstMetric(mDriveInfo, prometheus.GaugeValue, 1,
				s.Device, s.Identity.Model, s.Identity.SerialNumber, s.Identity.Firmware),
			prometheus.MustNewConstMetric(mOpalSupported, prometheus.GaugeValue,
				boolGauge(s.Level0 != nil && (s.Level0.OpalV1 != nil || s.Level0.OpalV2 != nil)),
				s.Device),
		)
		if s.Level0 == nil {
			continue
		}
		for _, ssc := range sscFeatures(s.Level0) {
			mc.m = append(mc.m,
				prometheus.MustNewConstMetric(mSSCSupported, prometheus.GaugeValue, 1,
					s.Device, ssc))
		}
		if l := s.Level0.Locking; l != nil {
			mc.m = append(mc.m,
				prometheus.MustNewConstMetric(mLockingEnabled, prometheus.GaugeValue,
					boolGauge(l.LockingEnabled), s.Device),
				prometheus.MustNewConstMetric(mLocked, prometheus.GaugeValue,
					boolGauge(l.Locked), s.Device),
				prometheus.MustNewConstMetric(mMBRDone, prometheus.GaugeValue,
					boolGauge(l.MBRDone), s.Device),
			)
		}
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(mc)

	mfs, err := reg.Gather()
	if err != nil {
		log.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			log.Fatalf("Failed to serialize metrics: %v", err)
		}
	}
}
