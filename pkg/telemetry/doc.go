// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry for the DocGen binaries.
//
// Components use the otel APIs directly (otel.Tracer, otel.Meter). Init
// installs the global providers those calls delegate to, so swapping a
// backend is a config change, not a code change.
//
// # Trace Backend
//
// "otlp" exports over gRPC (Jaeger 1.35+ accepts OTLP natively), "stdout"
// pretty-prints spans, and "none" leaves the no-op provider in place.
//
// # Metrics Backend
//
// "prometheus" bridges OTel instruments into a prometheus.Registerer so
// they are served next to the DocGen collectors on /metrics. "stdout"
// prints periodically. "none" disables OTel metrics.
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	providers, err := telemetry.Init(ctx, cfg, reg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer providers.Shutdown(context.Background())
//
// # Environment Variables
//
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - ALEUTIAN_ENV: environment name (default: development)
package telemetry
