/*
Package snapshot writes periodic exports of every role to durable sinks.

A Scheduler runs the engine's role export on a cron schedule and hands the
resulting document to each configured Sink. Two sinks are provided:

  - FileSink writes one file per snapshot into a local directory.
  - S3Sink uploads one object per snapshot to an S3 compatible bucket.

Snapshot documents are the same JSON documents rolekeeper export produces,
so any snapshot can be restored with rolekeeper import.

	scheduler := snapshot.NewScheduler(engine, []snapshot.Sink{fileSink}, logger, metrics)
	if err := scheduler.Schedule("@hourly"); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop(ctx)
*/
package snapshot
