package row_test

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/jittakal/kafrowstore/pkg/row"
)

func ExamplePartitionID_String() {
	pid := row.PartitionID{
		Topic:     "orders",
		Partition: 5,
	}

	fmt.Println(pid.String())
	// Output: orders-5
}

func ExampleRecord_PartitionTime() {
	record := row.Record{
		Values: []any{int64(42), civil.Date{Year: 2025, Month: 12, Day: 20}},
		Kafka: row.KafkaMetadata{
			Topic:     "orders",
			Timestamp: time.Date(2025, 12, 21, 10, 30, 0, 0, time.UTC),
		},
	}

	fmt.Println(record.PartitionTime(1).Format("2006-01-02"))
	fmt.Println(record.PartitionTime(-1).Format("2006-01-02"))
	// Output:
	// 2025-12-20
	// 2025-12-21
}
