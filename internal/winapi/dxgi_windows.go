//go:build windows

package winapi

import (
	"fmt"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

// IDXGISwapChain vtable indices.
const (
	SwapChainPresent       = 8
	SwapChainGetBuffer     = 9
	SwapChainGetDesc       = 12
	SwapChainResizeBuffers = 13
	// IDXGIDeviceSubObject::GetDevice
	SwapChainGetDevice = 7
	// IDXGISwapChain3::GetCurrentBackBufferIndex
	SwapChain3GetCurrentBackBufferIndex = 36
)

const (
	FormatR8G8B8A8Unorm = 28
	FormatR32G32Float   = 16
	FormatR16Uint       = 57
	FormatR32Uint       = 42
	FormatUnknown       = 0

	UsageRenderTargetOutput = 0x20
	SwapEffectDiscard       = 0
	SwapEffectFlipDiscard   = 4
)

var (
	IIDIDXGISwapChain3 = ole.NewGUID("{94d99bdb-f1f8-4ab0-b236-7da0170edab1}")
	IIDIDXGIFactory1   = ole.NewGUID("{770aae78-f26f-4dba-a829-253c83d1b387}")
	IIDIDXGIInfoQueue  = ole.NewGUID("{d67441c7-672a-476f-9e82-cd55b44949ce}")
	dxgiDebugAll       = ole.NewGUID("{e48ae283-da80-490b-87e6-43e9a9cfda08}")

	dxgiDLL               = windows.NewLazySystemDLL("dxgi.dll")
	dxgiDebugDLL          = windows.NewLazySystemDLL("dxgidebug.dll")
	procCreateFactory1    = dxgiDLL.NewProc("CreateDXGIFactory1")
	procGetDebugInterface = dxgiDebugDLL.NewProc("DXGIGetDebugInterface")
)

type Rational struct {
	Numerator   uint32
	Denominator uint32
}

// ModeDesc matches DXGI_MODE_DESC.
type ModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      Rational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// SwapChainDesc matches DXGI_SWAP_CHAIN_DESC.
type SwapChainDesc struct {
	BufferDesc    ModeDesc
	SampleCount   uint32
	SampleQuality uint32
	BufferUsage   uint32
	BufferCount   uint32
	OutputWindow  uintptr
	Windowed      int32
	SwapEffect    uint32
	Flags         uint32
}

// DummySwapChainDesc describes a small windowed swap chain for vtable
// discovery.
func DummySwapChainDesc(hwnd windows.HWND, effect uint32) SwapChainDesc {
	return SwapChainDesc{
		BufferDesc: ModeDesc{
			Width: 640, Height: 480,
			RefreshRate: Rational{60, 1},
			Format:      FormatR8G8B8A8Unorm,
		},
		SampleCount:  1,
		BufferUsage:  UsageRenderTargetOutput,
		BufferCount:  2,
		OutputWindow: uintptr(hwnd),
		Windowed:     1,
		SwapEffect:   effect,
	}
}

// GetSwapChainDesc reads sc's description.
func GetSwapChainDesc(sc uintptr) (SwapChainDesc, error) {
	var d SwapChainDesc
	err := Call("IDXGISwapChain::GetDesc", sc, SwapChainGetDesc, uintptr(unsafe.Pointer(&d)))
	return d, err
}

// GetBuffer returns back buffer idx of sc as iid, with a reference the
// caller owns.
func GetBuffer(sc uintptr, idx uint32, iid *ole.GUID) (uintptr, error) {
	var out uintptr
	err := Call("IDXGISwapChain::GetBuffer", sc, SwapChainGetBuffer, uintptr(idx), uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	return out, err
}

// GetDevice returns the device sc was created on, as iid.
func GetDevice(sc uintptr, iid *ole.GUID) (uintptr, error) {
	var out uintptr
	err := Call("IDXGISwapChain::GetDevice", sc, SwapChainGetDevice, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	return out, err
}

// CreateFactory1 creates an IDXGIFactory1.
func CreateFactory1() (uintptr, error) {
	if err := procCreateFactory1.Find(); err != nil {
		return 0, err
	}
	var f uintptr
	hr, _, _ := procCreateFactory1.Call(uintptr(unsafe.Pointer(IIDIDXGIFactory1)), uintptr(unsafe.Pointer(&f)))
	if Failed(hr) {
		return 0, fmt.Errorf("CreateDXGIFactory1: %w", HRESULT(hr))
	}
	return f, nil
}

// IDXGIFactory vtable indices.
const (
	FactoryEnumAdapters    = 7
	FactoryCreateSwapChain = 10
)

// IDXGIInfoQueue vtable indices.
const (
	infoQueueClearStoredMessages = 4
	infoQueueGetMessage          = 5
	infoQueueGetNumStored        = 7
)

type infoQueueMessage struct {
	Producer    ole.GUID
	Category    int32
	Severity    int32
	ID          int32
	Description *byte
	DescLen     uintptr
}

// DXGIDebugMessages drains the DXGI info queue. It returns nil when the
// debug layer is not installed.
func DXGIDebugMessages() []string {
	if err := procGetDebugInterface.Find(); err != nil {
		return nil
	}
	var q uintptr
	hr, _, _ := procGetDebugInterface.Call(uintptr(unsafe.Pointer(IIDIDXGIInfoQueue)), uintptr(unsafe.Pointer(&q)))
	if Failed(hr) || q == 0 {
		return nil
	}
	defer Release(q)

	all := uintptr(unsafe.Pointer(dxgiDebugAll))
	n := uint64(CallRaw(q, infoQueueGetNumStored, all))
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		var size uintptr
		if Failed(CallRaw(q, infoQueueGetMessage, all, uintptr(i), 0, uintptr(unsafe.Pointer(&size)))) || size < unsafe.Sizeof(infoQueueMessage{}) {
			continue
		}
		buf := make([]byte, size)
		msg := (*infoQueueMessage)(unsafe.Pointer(&buf[0]))
		if Failed(CallRaw(q, infoQueueGetMessage, all, uintptr(i), uintptr(unsafe.Pointer(msg)), uintptr(unsafe.Pointer(&size)))) {
			continue
		}
		if msg.Description != nil && msg.DescLen > 1 {
			out = append(out, string(unsafe.Slice(msg.Description, msg.DescLen-1)))
		}
	}
	CallRaw(q, infoQueueClearStoredMessages, all)
	return out
}
