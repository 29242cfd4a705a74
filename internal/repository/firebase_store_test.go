package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

func TestFirebaseRecordWireFormat(t *testing.T) {
	ts := time.UnixMilli(1709280000123).UTC()
	raw, err := json.Marshal(toFirebaseRecord(&models.AttendanceRecord{
		SessionID:          "s1",
		Name:               "Ana",
		RegistrationNumber: "A100",
		SubmittedLatitude:  12.97,
		SubmittedLongitude: 77.59,
		DistanceMeters:     14,
		Timestamp:          ts,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","regNumber":"A100","studentLat":12.97,"studentLng":77.59,"distance":14,"timestamp":1709280000123,"sessionId":"s1"}`, string(raw))
}

func TestFirebaseRecordsFromMapOrdersAndRounds(t *testing.T) {
	var all map[string]firebaseRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"-Nb": {"name":"Budi","regNumber":"A101","studentLat":1,"studentLng":2,"distance":7.6,"timestamp":2000},
		"-Na": {"name":"Ana","regNumber":"A100","studentLat":1,"studentLng":2,"distance":3,"timestamp":1000,"photoURL":"https://x/p.jpg"}
	}`), &all))

	records := recordsFromMap(all)
	require.Len(t, records, 2)
	assert.Equal(t, "-Na", records[0].ID)
	assert.Equal(t, "https://x/p.jpg", records[0].PhotoURL)
	assert.Equal(t, 8, records[1].DistanceMeters)
}

func TestFirebaseSessionWireFormat(t *testing.T) {
	created := time.UnixMilli(1709280000000).UTC()
	fs := toFirebaseSession(&models.Session{ID: "s1", AnchorLatitude: 1.5, AnchorLongitude: 2.5, Active: true, CreatedAt: created})
	raw, err := json.Marshal(fs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"s1","teacherLat":1.5,"teacherLng":2.5,"timestamp":1709280000000,"active":true}`, string(raw))

	back := fs.model()
	assert.Equal(t, created, back.CreatedAt)
	assert.True(t, back.Active)
}

func TestFirebasePollerDiff(t *testing.T) {
	store := NewFirebaseStore(nil, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := store.recordEvents.subscribe(ctx)
	require.NoError(t, err)

	p := &firebasePoller{store: store, known: map[string]struct{}{}}
	p.diffRecords([]models.AttendanceRecord{{ID: "a"}, {ID: "b"}}, true)
	p.diffRecords([]models.AttendanceRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}}, false)
	p.diffRecords(nil, false)

	added := receive(t, changes)
	assert.Equal(t, models.RecordAdded, added.Kind)
	assert.Equal(t, "c", added.Record.ID)
	assert.Equal(t, models.RecordsCleared, receive(t, changes).Kind)
}

func TestFirebasePollerDiffClearAndAddWithinOneInterval(t *testing.T) {
	store := NewFirebaseStore(nil, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := store.recordEvents.subscribe(ctx)
	require.NoError(t, err)

	p := &firebasePoller{store: store, known: map[string]struct{}{}}
	p.diffRecords([]models.AttendanceRecord{{ID: "a"}, {ID: "b"}}, true)
	p.diffRecords([]models.AttendanceRecord{{ID: "c"}}, false)

	assert.Equal(t, models.RecordsCleared, receive(t, changes).Kind)
	added := receive(t, changes)
	assert.Equal(t, models.RecordAdded, added.Kind)
	assert.Equal(t, "c", added.Record.ID)
	assert.Equal(t, map[string]struct{}{"c": {}}, p.known)
}

func TestFirebasePollerDiffRebuildsAfterPartialRemoval(t *testing.T) {
	store := NewFirebaseStore(nil, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := store.recordEvents.subscribe(ctx)
	require.NoError(t, err)

	p := &firebasePoller{store: store, known: map[string]struct{}{}}
	p.diffRecords([]models.AttendanceRecord{{ID: "a"}, {ID: "b"}}, true)
	p.diffRecords([]models.AttendanceRecord{{ID: "b"}}, false)

	assert.Equal(t, models.RecordsCleared, receive(t, changes).Kind)
	again := receive(t, changes)
	assert.Equal(t, models.RecordAdded, again.Kind)
	assert.Equal(t, "b", again.Record.ID)
}

func TestSameSession(t *testing.T) {
	a := &models.Session{ID: "s1", Active: true}
	b := &models.Session{ID: "s1", Active: false}
	assert.True(t, sameSession(nil, nil))
	assert.False(t, sameSession(a, nil))
	assert.False(t, sameSession(a, b))
	assert.True(t, sameSession(a, &models.Session{ID: "s1", Active: true}))
}
