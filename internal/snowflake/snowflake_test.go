package snowflake

import "testing"

func TestSetupSnowflake(t *testing.T) {
	err := Setup(0)
	if err != nil {
		t.Error(err)
	}
}

func TestGenerateSnowflake(t *testing.T) {
	_, err := Generate()
	if err != nil {
		t.Error(err)
	}
}

func TestGenerateSnowflakeMonotonic(t *testing.T) {
	prev, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	for range 1000 {
		id, err := Generate()
		if err != nil {
			// increment overflow within one millisecond is acceptable here
			return
		}
		if id <= prev {
			t.Fatalf("expected id %d to be greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestExtractRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	extracted := Extract(id)
	if extracted.Timestamp != ExtractTimestamp(id) {
		t.Error("Extract and ExtractTimestamp disagree on timestamp")
	}
}
