package agent

import (
	"testing"

	"github.com/haasonsaas/nexus/internal/authority"
)

func TestSanitizeMCPName(t *testing.T) {
	got := SanitizeMCPName("My Server!!", "search")
	want := "mcp_my_server_search"
	if got != want {
		t.Errorf("SanitizeMCPName = %q, want %q", got, want)
	}
}

func TestIsExternalContent(t *testing.T) {
	if !IsExternalContent("mcp_filesystem_read") {
		t.Errorf("any mcp_ tool should be external content")
	}
	if !IsExternalContent("shell_execute") {
		t.Errorf("shell_execute should be external content")
	}
	if IsExternalContent("get_status") {
		t.Errorf("get_status should not be external content")
	}
}

func TestIsPaymentTool(t *testing.T) {
	if !IsPaymentTool("payment_send") {
		t.Errorf("payment_send should be a payment tool")
	}
	if IsPaymentTool("read_file") {
		t.Errorf("read_file should not be a payment tool")
	}
}

func TestToolRegistry_RegisterFirstWins(t *testing.T) {
	r := NewToolRegistry()
	desc := ToolDescriptor{Name: "get_status", PermissionLevel: SAFE, Origin: "native"}
	if err := r.Register(nil, desc); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := r.Register(nil, desc); err == nil {
		t.Fatalf("second registration of the same name should be rejected")
	}
}

func TestToolRegistry_UnregisterServer(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(nil, ToolDescriptor{Name: "mcp_fs_read", Origin: "mcp:fs"})
	_ = r.Register(nil, ToolDescriptor{Name: "get_status", Origin: "native"})

	r.UnregisterServer("fs")

	if _, _, ok := r.Get("mcp_fs_read"); ok {
		t.Errorf("mcp_fs_read should have been removed")
	}
	if _, _, ok := r.Get("get_status"); !ok {
		t.Errorf("get_status should remain registered")
	}
}

func TestFilterTools(t *testing.T) {
	tools := []ToolDescriptor{
		{Name: "read_file", PermissionLevel: SAFE},
		{Name: "shell_execute", PermissionLevel: DESTRUCTIVE},
	}

	if got := FilterTools(tools, authority.Owner); len(got) != len(tools) {
		t.Errorf("Owner should see every tool, got %d", len(got))
	}
	if got := FilterTools(tools, authority.Public); len(got) != 0 {
		t.Errorf("Public should see no tools, got %d", len(got))
	}
	got := FilterTools(tools, authority.Trusted)
	if len(got) != 1 || got[0].Name != "read_file" {
		t.Errorf("Trusted should only see read_file, got %+v", got)
	}
}
