package research

import (
	"context"
	"reflect"
	"testing"
)

func TestGetSessionStatus_WithInstance(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testSessionPath, respond(`{"state":"IN_PROGRESS","ideaForgeInstance":"`+testInstancePath+`"}`))
	api.onGet(testInstancePath, respond(`{"state":"ACTIVE","config":{"goal":"cure x"},"ideas":`+inlineIdeas(3)+`}`))
	m, _ := newTestManager(t, api)

	st, err := m.GetSessionStatus(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetSessionStatus: %v", err)
	}
	want := SessionStatus{SessionID: "12345", State: "ACTIVE", HasInstance: true, InstanceID: "999", IdeasCount: 3, Goal: "cure x"}
	if !reflect.DeepEqual(st, want) {
		t.Errorf("status = %+v, want %+v", st, want)
	}
}

func TestGetSessionStatus_CountsPreviews(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testSessionPath, respond(`{"ideaForgeInstance":"`+testInstancePath+`"}`))
	api.onGet(testInstancePath, respond(`{"state":"SUCCEEDED","ideaPreviews":[{"ideaForgeIdea":"a"},{"ideaForgeIdea":"b"}]}`))
	m, _ := newTestManager(t, api)

	st, err := m.GetSessionStatus(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetSessionStatus: %v", err)
	}
	if st.IdeasCount != 2 || st.State != "SUCCEEDED" {
		t.Errorf("status = %+v", st)
	}
}

func TestGetSessionStatus_NoInstance(t *testing.T) {
	tests := []struct {
		reply, want string
	}{
		{`{"state":"IN_PROGRESS"}`, "IN_PROGRESS"},
		{`{}`, NoInstanceState},
	}
	for _, tt := range tests {
		api := newFakeAPI()
		api.onGet(testSessionPath, respond(tt.reply))
		m, _ := newTestManager(t, api)

		st, err := m.GetSessionStatus(context.Background(), "12345")
		if err != nil {
			t.Fatalf("GetSessionStatus: %v", err)
		}
		if st.State != tt.want || st.HasInstance {
			t.Errorf("%s: status = %+v", tt.reply, st)
		}
	}
}

func TestGetSessionStatus_Error(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testSessionPath, respondErr("not found"))
	m, _ := newTestManager(t, api)

	if _, err := m.GetSessionStatus(context.Background(), "12345"); err == nil {
		t.Error("expected an error")
	}
}

func TestGetIdeasFromSession_FetchesDetails(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testSessionPath, respond(`{"ideaForgeInstance":"`+testInstancePath+`"}`))
	api.onGet(testInstancePath, respond(`{"state":"SUCCEEDED","ideaPreviews":[
		{"ideaForgeIdea":"`+testInstancePath+`/ideaForgeIdeas/a"},
		{"ideaForgeIdea":"`+testInstancePath+`/ideaForgeIdeas/b"},
		{"name":"`+testInstancePath+`/ideaForgeIdeas/c","title":"Inline"}]}`))
	api.onGet(testInstancePath+"/ideaForgeIdeas/a", respond(`{"name":"`+testInstancePath+`/ideaForgeIdeas/a","title":"Alpha"}`))
	api.onGet(testInstancePath+"/ideaForgeIdeas/b", respondErr("gone"))
	m, _ := newTestManager(t, api)

	ideas, err := m.GetIdeasFromSession(context.Background(), "12345", true)
	if err != nil {
		t.Fatalf("GetIdeasFromSession: %v", err)
	}
	if len(ideas) != 3 {
		t.Fatalf("len = %d, want 3", len(ideas))
	}
	if ideas[0].Title != "Alpha" {
		t.Errorf("ideas[0] = %+v, want fetched detail", ideas[0])
	}
	if ideas[1].ID != "b" || !ideas[1].IsReference() {
		t.Errorf("ideas[1] = %+v, want kept reference", ideas[1])
	}
	if ideas[2].Title != "Inline" {
		t.Errorf("ideas[2] = %+v", ideas[2])
	}
	if api.callCount(testInstancePath+"/ideaForgeIdeas/c") != 0 {
		t.Error("inline ideas should not be fetched")
	}
}

func TestGetIdeasFromSession_NoDetails(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testSessionPath, respond(`{"ideaForgeInstance":"`+testInstancePath+`"}`))
	api.onGet(testInstancePath, respond(`{"ideaPreviews":[{"ideaForgeIdea":"x/ideaForgeIdeas/a"}]}`))
	m, _ := newTestManager(t, api)

	ideas, err := m.GetIdeasFromSession(context.Background(), "12345", false)
	if err != nil || len(ideas) != 1 || !ideas[0].IsReference() {
		t.Fatalf("ideas = %+v, err = %v", ideas, err)
	}
}

func TestGetIdeasFromSession_NoInstance(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testSessionPath, respond(`{"state":"CREATED"}`))
	m, _ := newTestManager(t, api)

	ideas, err := m.GetIdeasFromSession(context.Background(), "12345", true)
	if err != nil {
		t.Fatalf("GetIdeasFromSession: %v", err)
	}
	if ideas == nil || len(ideas) != 0 {
		t.Errorf("ideas = %v, want empty slice", ideas)
	}
}

func TestGetIdeaDetails_Unrecognised(t *testing.T) {
	api := newFakeAPI()
	api.onGet(testInstancePath+"/ideaForgeIdeas/a", respond(`{"weird":true}`))
	m, _ := newTestManager(t, api)

	if _, err := m.GetIdeaDetails(context.Background(), "12345", "999", "a"); err == nil {
		t.Error("expected an error for an unrecognised record")
	}
}

func TestListSessions_Paginates(t *testing.T) {
	api := newFakeAPI()
	api.onGet("sessions", respond(`{"sessions":[
		{"name":"projects/p/sessions/1","state":"CREATED","startTime":"2026-01-02T03:04:05Z"},
		{"bogus":true}],"nextPageToken":"tok/2"}`))
	api.onGet("sessions?pageToken=tok%2F2", respond(`{"sessions":[
		{"name":"projects/p/sessions/2","ideaForgeInstance":"sessions/2/ideaForgeInstances/7"}]}`))
	m, _ := newTestManager(t, api)

	got, err := m.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "1" || got[0].StartTime == nil || got[0].HasInstance() {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].ID != "2" || !got[1].HasInstance() {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestListSessions_Error(t *testing.T) {
	api := newFakeAPI()
	api.onGet("sessions", respondErr("forbidden"))
	m, _ := newTestManager(t, api)

	if _, err := m.ListSessions(context.Background()); err == nil {
		t.Error("expected an error")
	}
}

func TestListSessionStatuses(t *testing.T) {
	api := newFakeAPI()
	api.onGet("sessions/1", respond(`{"ideaForgeInstance":"sessions/1/ideaForgeInstances/a"}`))
	api.onGet("sessions/1/ideaForgeInstances/a", respond(`{"state":"ACTIVE"}`))
	api.onGet("sessions/3", respondErr("boom"))
	m, _ := newTestManager(t, api)

	sessions := []SessionSummary{
		{ID: "1", InstancePath: "sessions/1/ideaForgeInstances/a"},
		{ID: "2"},
		{ID: "3", InstancePath: "sessions/3/ideaForgeInstances/b"},
	}
	got, err := m.ListSessionStatuses(context.Background(), sessions)
	if err != nil {
		t.Fatalf("ListSessionStatuses: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].SessionID != "1" || got[0].State != "ACTIVE" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].State != NoInstanceState || got[1].HasInstance {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[2].Err == nil || got[2].SessionID != "3" {
		t.Errorf("got[2] = %+v, want per-item error", got[2])
	}
	if api.callCount("sessions/2") != 0 {
		t.Error("sessions without an instance should not be fetched")
	}
}
