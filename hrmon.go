// Package hrmon derives heart rate in real time from the ECG or PPG
// channels of a wearable sensor stream.
//
// A Session delivers one cluster.Cluster per sample. A Monitor runs the
// configured signal channel through a filter chain and a heart-rate
// estimator, and a Runner moves clusters from the session goroutine to the
// monitor and hands every new Reading to the configured sinks:
//
//	m, err := hrmon.NewMonitor(hrmon.MonitorConfig{
//		Kind:   hrmon.ECG,
//		Signal: channel.ID{Name: channel.ECGLLRA, Format: channel.Cal},
//	})
//	if err != nil {
//		return err
//	}
//	r := hrmon.Attach(session, m, hrmon.WithSinks(hrmon.LogSink{Logger: log}))
//	return r.Run(ctx)
package hrmon
