package auxstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/nestormc/nestor/value"
)

type BackendSuite struct {
	suite.Suite
	open    func(t *testing.T) Backend
	backend Backend
	store   *Store
	ctx     context.Context
}

func (s *BackendSuite) SetupTest() {
	s.backend = s.open(s.T())
	s.store = New(s.backend)
	s.ctx = context.Background()
}

func (s *BackendSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *BackendSuite) TestPropertyRoundTrip() {
	props := s.store.Owner("downloads")

	s.Require().NoError(props.SaveObjectProperty(s.ctx, "42", "starred", value.Bool(true)))
	s.Require().NoError(props.SaveObjectProperty(s.ctx, "42", "rating", value.Int(4)))
	s.Require().NoError(props.SaveObjectProperty(s.ctx, "42", "rating", value.Int(5)))

	v, ok, err := props.LoadObjectProperty(s.ctx, "42", "rating")
	s.Require().NoError(err)
	s.True(ok)
	s.True(value.Int(5).Equal(v))

	_, ok, err = props.LoadObjectProperty(s.ctx, "42", "missing")
	s.Require().NoError(err)
	s.False(ok)

	names, err := props.ListObjectProperties(s.ctx, "42")
	s.Require().NoError(err)
	s.Equal([]string{"rating", "starred"}, names)
}

func (s *BackendSuite) TestOwnersAreIsolated() {
	a := s.store.Owner("a")
	b := s.store.Owner("ab")

	s.Require().NoError(a.SaveObjectProperty(s.ctx, "1", "x", value.String("a")))
	s.Require().NoError(b.SaveObjectProperty(s.ctx, "1", "x", value.String("b")))

	oids, err := a.ListObjects(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"1"}, oids)

	v, _, err := b.LoadObjectProperty(s.ctx, "1", "x")
	s.Require().NoError(err)
	s.Equal("b", v.AsString())
}

func (s *BackendSuite) TestNonASCIIOwners() {
	owners := []string{"musique-été", "音楽", "musique-ét", "ab"}
	for i, o := range owners {
		props := s.store.Owner(o)
		s.Require().NoError(props.SaveObjectProperty(s.ctx, strconv.Itoa(i), "x", value.Int(int64(i))))
		s.Require().NoError(props.SaveObjectProperty(s.ctx, "é"+strconv.Itoa(i), "x", value.Int(int64(i))))
	}

	for i, o := range owners {
		oids, err := s.store.Owner(o).ListObjects(s.ctx)
		s.Require().NoError(err)
		s.Equal([]string{strconv.Itoa(i), "é" + strconv.Itoa(i)}, oids, o)
	}
}

func (s *BackendSuite) TestRemovingLastPropertyPrunesObject() {
	props := s.store.Owner("downloads")
	s.Require().NoError(props.SaveObjectProperty(s.ctx, "7", "a", value.Int(1)))
	s.Require().NoError(props.SaveObjectProperty(s.ctx, "7", "b", value.Int(2)))

	s.Require().NoError(props.RemoveObjectProperty(s.ctx, "7", "a"))
	oids, err := props.ListObjects(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"7"}, oids)

	s.Require().NoError(props.RemoveObjectProperty(s.ctx, "7", "b"))
	oids, err = props.ListObjects(s.ctx)
	s.Require().NoError(err)
	s.Empty(oids)

	s.NoError(props.RemoveObjectProperty(s.ctx, "7", "b"), "removing twice is fine")
}

func (s *BackendSuite) TestObjectOperations() {
	props := s.store.Owner("music")
	m := value.NewMap()
	m.Set("tags", value.MapOf("genre", "jazz"))
	m.Set("title", value.String("Blue"))
	m.Set("year", value.Int(1959))

	s.Require().NoError(props.SaveObject(s.ctx, "track|1", m))
	s.Require().NoError(props.SaveObject(s.ctx, "track|2", value.MapOf("title", "Green").AsMap()))

	loaded, err := props.LoadObject(s.ctx, "track|1")
	s.Require().NoError(err)
	s.Equal([]string{"tags", "title", "year"}, loaded.Keys())
	s.True(m.Equal(loaded))

	oids, err := props.ListObjects(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"track|1", "track|2"}, oids)

	s.Require().NoError(props.RemoveObject(s.ctx, "track|1"))
	s.Require().NoError(props.RemoveObject(s.ctx, "track|1"))
	loaded, err = props.LoadObject(s.ctx, "track|1")
	s.Require().NoError(err)
	s.Equal(0, loaded.Len())
}

func (s *BackendSuite) TestSessions() {
	sessions := s.store.Sessions()
	now := time.Unix(1_700_000_000, 0)

	s.Require().NoError(sessions.TouchSession(s.ctx, "old", now.Add(-time.Minute)))
	s.Require().NoError(sessions.TouchSession(s.ctx, "live", now.Add(time.Hour)))
	s.Require().NoError(sessions.SaveValue(s.ctx, "old", "app_el_k", `"v"`))
	s.Require().NoError(sessions.SaveValue(s.ctx, "live", "app_el_k", `1`))

	expires, ok, err := sessions.SessionExpiry(s.ctx, "live")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(now.Add(time.Hour).Unix(), expires.Unix())

	expired, err := sessions.ExpiredSessions(s.ctx, now)
	s.Require().NoError(err)
	s.Equal([]string{"old"}, expired)

	s.Require().NoError(sessions.DeleteSession(s.ctx, "old"))
	_, ok, err = sessions.LoadValue(s.ctx, "old", "app_el_k")
	s.Require().NoError(err)
	s.False(ok)

	values, err := sessions.SessionValues(s.ctx, "live")
	s.Require().NoError(err)
	s.Equal([]Property{{Name: "app_el_k", Literal: "1"}}, values)
}

func TestSQLiteBackend(t *testing.T) {
	suite.Run(t, &BackendSuite{open: func(t *testing.T) Backend {
		b, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "nestor.db"))
		if err != nil {
			t.Fatal(err)
		}
		return b
	}})
}

func TestMemoryBackend(t *testing.T) {
	suite.Run(t, &BackendSuite{open: func(t *testing.T) Backend {
		b, err := Open(DriverMemory, "")
		if err != nil {
			t.Fatal(err)
		}
		return b
	}})
}

func TestBoltBackend(t *testing.T) {
	suite.Run(t, &BackendSuite{open: func(t *testing.T) Backend {
		b, err := Open(DriverBolt, filepath.Join(t.TempDir(), "nestor.bolt"))
		if err != nil {
			t.Fatal(err)
		}
		return b
	}})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix string
		end    string
		ok     bool
	}{
		{"music:", "music;", true},
		{"été:", "été;", true},
		{"a\xff", "b", true},
		{"\xff\xff", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		end, ok := prefixEnd(tt.prefix)
		if end != tt.end || ok != tt.ok {
			t.Errorf("prefixEnd(%q) = %q, %v; want %q, %v", tt.prefix, end, ok, tt.end, tt.ok)
		}
	}
}
