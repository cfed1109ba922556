package telemetry

import "testing"

func TestNamespacePaths(t *testing.T) {
	ns := Namespace{}

	if got, want := ns.DevicePath("3", "7"), "root.iotflow.tenants.tenant_3.devices.device_7"; got != want {
		t.Errorf("DevicePath = %q, want %q", got, want)
	}
	if got, want := ns.TenantPath("3"), "root.iotflow.tenants.tenant_3.devices"; got != want {
		t.Errorf("TenantPath = %q, want %q", got, want)
	}
	if got, want := ns.SeriesPath("3", "7", "temperature"), "root.iotflow.tenants.tenant_3.devices.device_7.temperature"; got != want {
		t.Errorf("SeriesPath = %q, want %q", got, want)
	}
}

func TestNamespaceCustomRoot(t *testing.T) {
	ns := Namespace{Database: "root.staging"}
	if got, want := ns.DevicePath("a", "b"), "root.staging.tenants.tenant_a.devices.device_b"; got != want {
		t.Errorf("DevicePath = %q, want %q", got, want)
	}
}

func TestNamespaceSanitizesComponents(t *testing.T) {
	ns := Namespace{}

	// Dots and spaces would corrupt the hierarchy; backticks are stripped.
	got := ns.SeriesPath("ten.ant", "dev 1", "temp`c")
	want := "root.iotflow.tenants.tenant_ten_ant.devices.device_dev_1.tempc"
	if got != want {
		t.Errorf("SeriesPath = %q, want %q", got, want)
	}
}
