/*
Package diskforge writes disk images to raw devices and recovers from
failures along the way.

# Overview

An Orchestrator ties the subpackages together:

  - device: classifies devices and rejects targets that are not raw
    removable block devices
  - writer: copies the image in chunks and verifies the result
  - checkpoint: persists a rollback point before the first byte is written
  - fault: tags every failure with a kind, a phase and a severity
  - recovery: proposes and executes ranked recovery actions
  - config and observability: settings, logging, metrics and tracing

Each write runs on its own goroutine. Only one write may hold a base device
(/dev/sdb and /dev/sdb1 share one) at a time; different devices are
written concurrently.

# Basic Usage

	settings, err := config.Load("diskforge.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	orch, closeStore, err := diskforge.FromSettings(settings, slog.Default())
	if err != nil {
	    log.Fatal(err)
	}
	defer closeStore()

	op, err := orch.Submit(ctx, diskforge.Request{
	    Source: "ubuntu.iso",
	    Target: "/dev/sdb",
	    Verify: true,
	})
	if err != nil {
	    log.Fatal(err) // ErrDeviceBusy if /dev/sdb is already being written
	}
	for p := range op.Progress() {
	    fmt.Printf("%s %.1f%%\n", p.Operation, p.Percentage)
	}
	report := op.Wait()

# Failures and Recovery

A failed attempt is classified into a fault.Context and handed to the
recovery coordinator. Retries and alternatives that need no approval run
automatically. Critical failures, such as a permission error while writing,
never do: their ranked actions go to the Approver set with WithApprover,
and without one the operation ends with a *FailureError listing them.

	var failure *diskforge.FailureError
	if errors.As(report.Err, &failure) {
	    for _, a := range failure.Actions {
	        fmt.Printf("%.0f%% %s\n", a.Confidence*100, a.Description)
	    }
	}

# Cancellation

Cancelling an operation stops it within one chunk and reports
writer.StateCancelled with a nil error. The target is left as it was at
that point; Report.TargetDirty tells whether it was partially overwritten.
*/
package diskforge
