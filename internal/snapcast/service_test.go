package snapcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
)

// fakeCaller records requests and returns a canned result.
type fakeCaller struct {
	method string
	params string
	result string
	err    error
}

func (f *fakeCaller) SendRequest(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.method = method
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	f.params = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.result), nil
}

const statusJSON = `{"server":{
	"groups":[{"id":"g1","name":"Living","muted":false,"stream_id":"s1","clients":[
		{"id":"c1","connected":true,"config":{"instance":1,"latency":0,"name":"Sofa","volume":{"muted":false,"percent":40}},
		 "host":{"arch":"x86_64","ip":"10.0.0.5","mac":"00:11:22:33:44:55","name":"sofa","os":"Linux"},
		 "snapclient":{"name":"Snapclient","protocolVersion":2,"version":"0.27.0"},
		 "lastSeen":{"sec":1700000000,"usec":1}}]}],
	"server":{"host":{"name":"snapserver"},"snapserver":{"name":"Snapserver","protocolVersion":1,"controlProtocolVersion":1,"version":"0.27.0"}},
	"streams":[{"id":"s1","status":"playing","uri":{"raw":"pipe:///tmp/snapfifo?name=s1","scheme":"pipe","path":"/tmp/snapfifo","query":{"name":"s1"}}}]
}}`

func TestServiceGetStatus(t *testing.T) {
	fc := &fakeCaller{result: statusJSON}
	svc := NewService(fc)

	srv, err := svc.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if fc.method != MethodServerGetStatus || fc.params != "null" {
		t.Errorf("request = %s %s", fc.method, fc.params)
	}

	c, g, ok := srv.FindClient("c1")
	if !ok {
		t.Fatal("FindClient(c1) not found")
	}
	if g.ID != "g1" || c.Config.Volume.Percent != 40 || c.Config.Name != "Sofa" {
		t.Errorf("client = %+v in group %s", c, g.ID)
	}
	if st, ok := srv.FindStream("s1"); !ok || st.Status != "playing" || st.URI.Query["name"] != "s1" {
		t.Errorf("stream = %+v, %v", st, ok)
	}
	if _, ok := srv.FindGroup("missing"); ok {
		t.Error("FindGroup(missing) found a group")
	}
	if srv.Server.Snapserver.Version != "0.27.0" {
		t.Errorf("snapserver version = %q", srv.Server.Snapserver.Version)
	}
}

func TestServiceRequests(t *testing.T) {
	tests := []struct {
		name       string
		call       func(*Service) error
		result     string
		wantMethod string
		wantParams string
	}{
		{
			name: "set client volume",
			call: func(s *Service) error {
				v, err := s.SetClientVolume(context.Background(), "c1", 0)
				if err == nil && v.Percent != 0 {
					return errors.New("unexpected volume")
				}
				return err
			},
			result:     `{"volume":{"muted":false,"percent":0}}`,
			wantMethod: MethodClientSetVolume,
			wantParams: `{"id":"c1","volume":{"percent":0}}`,
		},
		{
			name: "set client mute",
			call: func(s *Service) error {
				v, err := s.SetClientMute(context.Background(), "c1", true)
				if err == nil && !v.Muted {
					return errors.New("mute not reflected")
				}
				return err
			},
			result:     `{"volume":{"muted":true,"percent":40}}`,
			wantMethod: MethodClientSetVolume,
			wantParams: `{"id":"c1","volume":{"muted":true}}`,
		},
		{
			name: "set client latency",
			call: func(s *Service) error {
				_, err := s.SetClientLatency(context.Background(), "c1", 25)
				return err
			},
			result:     `{"latency":25}`,
			wantMethod: MethodClientSetLatency,
			wantParams: `{"id":"c1","latency":25}`,
		},
		{
			name: "set client name",
			call: func(s *Service) error {
				_, err := s.SetClientName(context.Background(), "c1", "Kitchen")
				return err
			},
			result:     `{"name":"Kitchen"}`,
			wantMethod: MethodClientSetName,
			wantParams: `{"id":"c1","name":"Kitchen"}`,
		},
		{
			name: "set group mute",
			call: func(s *Service) error {
				_, err := s.SetGroupMute(context.Background(), "g1", true)
				return err
			},
			result:     `{"mute":true}`,
			wantMethod: MethodGroupSetMute,
			wantParams: `{"id":"g1","mute":true}`,
		},
		{
			name: "set group stream",
			call: func(s *Service) error {
				_, err := s.SetGroupStream(context.Background(), "g1", "s2")
				return err
			},
			result:     `{"stream_id":"s2"}`,
			wantMethod: MethodGroupSetStream,
			wantParams: `{"id":"g1","stream_id":"s2"}`,
		},
		{
			name: "set group clients",
			call: func(s *Service) error {
				_, err := s.SetGroupClients(context.Background(), "g1", nil)
				return err
			},
			result:     statusJSON,
			wantMethod: MethodGroupSetClients,
			wantParams: `{"id":"g1","clients":[]}`,
		},
		{
			name: "set group name",
			call: func(s *Service) error {
				_, err := s.SetGroupName(context.Background(), "g1", "Upstairs")
				return err
			},
			result:     `{"name":"Upstairs"}`,
			wantMethod: MethodGroupSetName,
			wantParams: `{"id":"g1","name":"Upstairs"}`,
		},
		{
			name: "delete client",
			call: func(s *Service) error {
				_, err := s.DeleteClient(context.Background(), "c9")
				return err
			},
			result:     statusJSON,
			wantMethod: MethodServerDeleteClient,
			wantParams: `{"id":"c9"}`,
		},
		{
			name: "rpc version",
			call: func(s *Service) error {
				v, err := s.GetRPCVersion(context.Background())
				if err == nil && v.Major != 2 {
					return errors.New("wrong major version")
				}
				return err
			},
			result:     `{"major":2,"minor":0,"patch":0}`,
			wantMethod: MethodServerGetRPCVersion,
			wantParams: `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCaller{result: tt.result}
			if err := tt.call(NewService(fc)); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if fc.method != tt.wantMethod {
				t.Errorf("method = %q, want %q", fc.method, tt.wantMethod)
			}
			if fc.params != tt.wantParams {
				t.Errorf("params = %s, want %s", fc.params, tt.wantParams)
			}
		})
	}
}

func TestServiceValidation(t *testing.T) {
	svc := NewService(&fakeCaller{})
	ctx := context.Background()

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"volume empty id", func() error { _, err := svc.SetClientVolume(ctx, "", 10); return err }(), ErrInvalidID},
		{"volume too high", func() error { _, err := svc.SetClientVolume(ctx, "c1", 101); return err }(), ErrInvalidVolume},
		{"volume negative", func() error { _, err := svc.SetClientVolume(ctx, "c1", -1); return err }(), ErrInvalidVolume},
		{"mute empty id", func() error { _, err := svc.SetClientMute(ctx, "", true); return err }(), ErrInvalidID},
		{"latency negative", func() error { _, err := svc.SetClientLatency(ctx, "c1", -5); return err }(), ErrInvalidLatency},
		{"stream empty", func() error { _, err := svc.SetGroupStream(ctx, "g1", ""); return err }(), ErrInvalidID},
		{"group mute empty id", func() error { _, err := svc.SetGroupMute(ctx, "", true); return err }(), ErrInvalidID},
		{"delete empty id", func() error { _, err := svc.DeleteClient(ctx, ""); return err }(), ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("error = %v, want %v", tt.err, tt.wantErr)
			}
		})
	}
}

func TestServicePropagatesRPCErrors(t *testing.T) {
	remote := &jsonrpc.RemoteError{Code: jsonrpc.CodeInvalidParams, Message: "Invalid params"}
	svc := NewService(&fakeCaller{err: remote})

	_, err := svc.SetClientVolume(context.Background(), "c1", 50)

	var re *jsonrpc.RemoteError
	if !errors.As(err, &re) || re.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("error = %v, want RemoteError -32602", err)
	}

	svc = NewService(&fakeCaller{err: jsonrpc.ErrTimeout})
	if _, err := svc.GetStatus(context.Background()); !errors.Is(err, jsonrpc.ErrTimeout) {
		t.Errorf("GetStatus() error = %v, want ErrTimeout", err)
	}
}

func TestServiceBadResult(t *testing.T) {
	svc := NewService(&fakeCaller{result: `{"volume":"loud"}`})
	if _, err := svc.SetClientVolume(context.Background(), "c1", 50); err == nil {
		t.Error("SetClientVolume() expected decode error")
	}
}
