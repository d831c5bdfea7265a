// Package buffer holds decoded rows per Kafka partition until the pipeline
// flushes them to storage.
//
// A PartitionBuffer enforces two limits, a record count and an estimated
// byte size. The size of a record is the length of its canonical IDF text
// plus its Kafka key, headers and topic, so a buffer of N bytes produces an
// IDF file of roughly N bytes before compression. Zero limits are disabled.
//
// Add refuses a record that would cross a limit with an error wrapping
// errors.ErrBufferFull. The caller flushes and retries:
//
//	if err := buf.Add(record); errors.Is(err, kerrors.ErrBufferFull) {
//	    write(buf.Drain())
//	    err = buf.Add(record)
//	}
//
// Stats reports the record count, the estimated size and the first and last
// write times. The rotation policy in internal/storage decides from these
// whether a buffer is due.
//
// Manager keeps one buffer per partition. Partitions lists them in topic and
// partition order, which keeps shutdown flushes deterministic, and Remove
// hands back what a partition still held when it is dropped.
//
// All methods are safe for concurrent use.
package buffer
