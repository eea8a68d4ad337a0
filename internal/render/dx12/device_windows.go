//go:build windows

package dx12

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

// ID3D12Device vtable indices.
const (
	devCreateCommandQueue          = 8
	devCreateCommandAllocator      = 9
	devCreateGraphicsPipelineState = 10
	devCreateCommandList           = 12
	devCreateDescriptorHeap        = 14
	devCreateRootSignature         = 16
	devCreateShaderResourceView    = 18
	devCreateRenderTargetView      = 20
	devCreateCommittedResource     = 27
	devCreateFence                 = 36
)

// ID3D12GraphicsCommandList vtable indices.
const (
	listClose                          = 9
	listReset                          = 10
	listDrawIndexedInstanced           = 13
	listIASetPrimitiveTopology         = 20
	listRSSetViewports                 = 21
	listRSSetScissorRects              = 22
	listOMSetBlendFactor               = 23
	listSetPipelineState               = 25
	listResourceBarrier                = 26
	listSetDescriptorHeaps             = 28
	listSetGraphicsRootSignature       = 30
	listSetGraphicsRootDescriptorTable = 32
	listSetGraphicsRoot32BitConstants  = 36
	listIASetIndexBuffer               = 43
	listIASetVertexBuffers             = 44
	listOMSetRenderTargets             = 46
)

// Other interfaces.
const (
	queueExecuteCommandLists = 10
	queueSignal              = 14
	queueGetDesc             = 18

	allocatorReset = 8

	fenceGetCompletedValue    = 8
	fenceSetEventOnCompletion = 9

	resourceMap                  = 8
	resourceUnmap                = 9
	resourceGetGPUVirtualAddress = 11
	resourceWriteToSubresource   = 12

	heapGetCPUDescriptorHandleForHeapStart = 9
	heapGetGPUDescriptorHandleForHeapStart = 10
)

const (
	commandListTypeDirect = 0

	descriptorHeapCBVSRVUAV     = 0
	descriptorHeapRTV           = 2
	descriptorHeapShaderVisible = 1

	heapTypeUpload        = 2
	heapTypeCustom        = 4
	cpuPageWriteBack      = 3
	memoryPoolL0          = 1
	resourceDimBuffer     = 1
	resourceDimTexture2D  = 3
	layoutRowMajor        = 1
	stateGenericRead      = 0xac3
	stateCommon           = 0
	barrierTypeTransition = 0
	allSubresources       = 0xffffffff
	srvDimensionTexture2D = 4
	defaultComponentMap   = 0x1688
	rangeTypeSRV          = 0
	paramDescriptorTable  = 0
	paramConstants        = 1
	visibilityVertex      = 1
	visibilityPixel       = 5
	rootSignatureVersion1 = 1
	topologyTypeTriangle  = 3
	topologyTriangleList  = 4
	inputPerVertexData    = 0

	// D3D12_ROOT_SIGNATURE_FLAG_ALLOW_INPUT_ASSEMBLER_INPUT_LAYOUT plus the
	// deny flags for the stages the overlay does not use.
	rootSignatureFlags = 0x1 | 0x2 | 0x4 | 0x8

	blendOne         = 2
	blendSrcAlpha    = 5
	blendInvSrcAlpha = 6
	blendOpAdd       = 1
	logicOpNoop      = 4
	colorWriteAll    = 0xf
	fillSolid        = 3
	cullNone         = 1
	comparisonAlways = 8
	stencilOpKeep    = 1

	filterMinMagMipLinear = 0x15
	addressWrap           = 1
	borderTransparent     = 0

	vertexSlack = 5000
	indexSlack  = 10000

	fenceTimeout = 5 * time.Second
)

var (
	iidID3D12Device              = ole.NewGUID("{189819f1-1db6-4b57-be54-1821339b85f7}")
	iidID3D12Resource            = ole.NewGUID("{696442be-a72e-4059-bc79-5b5c98040fad}")
	iidID3D12CommandQueue        = ole.NewGUID("{0ec870a6-5d7e-4c22-8cfc-5baae07616ed}")
	iidID3D12CommandAllocator    = ole.NewGUID("{6102dee4-af59-4b09-b999-b44d73f09b24}")
	iidID3D12GraphicsCommandList = ole.NewGUID("{5b160d0f-ac1b-4185-8ba8-b3ae42a5a455}")
	iidID3D12Fence               = ole.NewGUID("{0a753dcf-c4d8-4b91-adf6-be5a60d95a76}")
	iidID3D12DescriptorHeap      = ole.NewGUID("{8efb471d-616c-4f49-90f7-127bb763fa51}")
	iidID3D12RootSignature       = ole.NewGUID("{c54a6b66-72df-4ee8-8be5-a946a1429214}")
	iidID3D12PipelineState       = ole.NewGUID("{765a30f3-f624-4c6f-a828-ace948622445}")

	d3d12DLL                        = windows.NewLazySystemDLL("d3d12.dll")
	procD3D12CreateDevice           = d3d12DLL.NewProc("D3D12CreateDevice")
	procD3D12SerializeRootSignature = d3d12DLL.NewProc("D3D12SerializeRootSignature")
	compilerDLL                     = windows.NewLazySystemDLL("d3dcompiler_47.dll")
	procD3DCompile                  = compilerDLL.NewProc("D3DCompile")

	semPosition = []byte("POSITION\x00")
	semTexcoord = []byte("TEXCOORD\x00")
	semColor    = []byte("COLOR\x00")
)

const vertexShaderSource = `
cbuffer vertexBuffer : register(b0) { float4x4 ProjectionMatrix; };
struct VS_INPUT { float2 pos : POSITION; float2 uv : TEXCOORD0; float4 col : COLOR0; };
struct PS_INPUT { float4 pos : SV_POSITION; float4 col : COLOR0; float2 uv : TEXCOORD0; };
PS_INPUT main(VS_INPUT input) {
	PS_INPUT output;
	output.pos = mul(ProjectionMatrix, float4(input.pos.xy, 0.f, 1.f));
	output.col = input.col;
	output.uv  = input.uv;
	return output;
}`

const pixelShaderSource = `
struct PS_INPUT { float4 pos : SV_POSITION; float4 col : COLOR0; float2 uv : TEXCOORD0; };
SamplerState sampler0 : register(s0);
Texture2D texture0 : register(t0);
float4 main(PS_INPUT input) : SV_Target {
	return input.col * texture0.Sample(sampler0, input.uv);
}`

type commandQueueDesc struct {
	Type     uint32
	Priority int32
	Flags    uint32
	NodeMask uint32
}

type descriptorHeapDesc struct {
	Type           uint32
	NumDescriptors uint32
	Flags          uint32
	NodeMask       uint32
}

type heapProperties struct {
	Type                 uint32
	CPUPageProperty      uint32
	MemoryPoolPreference uint32
	CreationNodeMask     uint32
	VisibleNodeMask      uint32
}

type resourceDesc struct {
	Dimension        uint32
	Alignment        uint64
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           uint32
	SampleCount      uint32
	SampleQuality    uint32
	Layout           uint32
	Flags            uint32
}

type resourceBarrier struct {
	Type        uint32
	Flags       uint32
	Resource    uintptr
	Subresource uint32
	StateBefore uint32
	StateAfter  uint32
	_           uint32
}

type srvDesc struct {
	Format                  uint32
	ViewDimension           uint32
	Shader4ComponentMapping uint32
	_                       uint32
	MostDetailedMip         uint32
	MipLevels               uint32
	PlaneSlice              uint32
	ResourceMinLODClamp     float32
	_                       [8]byte
}

type descriptorRange struct {
	RangeType                         uint32
	NumDescriptors                    uint32
	BaseShaderRegister                uint32
	RegisterSpace                     uint32
	OffsetInDescriptorsFromTableStart uint32
}

// rootParameter matches D3D12_ROOT_PARAMETER; the middle words hold the
// descriptor table or root constants union.
type rootParameter struct {
	ParameterType    uint32
	_                uint32
	union            [2]uint64
	ShaderVisibility uint32
	_                uint32
}

func tableParameter(ranges []descriptorRange, visibility uint32) rootParameter {
	p := rootParameter{ParameterType: paramDescriptorTable, ShaderVisibility: visibility}
	p.union[0] = uint64(len(ranges))
	p.union[1] = uint64(uintptr(unsafe.Pointer(&ranges[0])))
	return p
}

func constantsParameter(register, count, visibility uint32) rootParameter {
	p := rootParameter{ParameterType: paramConstants, ShaderVisibility: visibility}
	p.union[0] = uint64(register)
	p.union[1] = uint64(count)
	return p
}

type staticSamplerDesc struct {
	Filter           uint32
	AddressU         uint32
	AddressV         uint32
	AddressW         uint32
	MipLODBias       float32
	MaxAnisotropy    uint32
	ComparisonFunc   uint32
	BorderColor      uint32
	MinLOD           float32
	MaxLOD           float32
	ShaderRegister   uint32
	RegisterSpace    uint32
	ShaderVisibility uint32
}

type rootSignatureDesc struct {
	NumParameters     uint32
	Parameters        *rootParameter
	NumStaticSamplers uint32
	StaticSamplers    *staticSamplerDesc
	Flags             uint32
}

type shaderBytecode struct {
	Code uintptr
	Size uintptr
}

type inputElementDesc struct {
	SemanticName         *byte
	SemanticIndex        uint32
	Format               uint32
	InputSlot            uint32
	AlignedByteOffset    uint32
	InputSlotClass       uint32
	InstanceDataStepRate uint32
}

type renderTargetBlendDesc struct {
	BlendEnable           int32
	LogicOpEnable         int32
	SrcBlend              uint32
	DestBlend             uint32
	BlendOp               uint32
	SrcBlendAlpha         uint32
	DestBlendAlpha        uint32
	BlendOpAlpha          uint32
	LogicOp               uint32
	RenderTargetWriteMask uint8
}

type depthStencilOpDesc struct {
	StencilFailOp      uint32
	StencilDepthFailOp uint32
	StencilPassOp      uint32
	StencilFunc        uint32
}

type graphicsPipelineDesc struct {
	RootSignature uintptr
	VS, PS        shaderBytecode
	DS, HS, GS    shaderBytecode

	StreamOutput struct {
		Declarations     uintptr
		NumEntries       uint32
		BufferStrides    uintptr
		NumStrides       uint32
		RasterizedStream uint32
	}

	AlphaToCoverageEnable  int32
	IndependentBlendEnable int32
	RenderTargetBlend      [8]renderTargetBlendDesc
	SampleMask             uint32

	Rasterizer struct {
		FillMode              uint32
		CullMode              uint32
		FrontCounterClockwise int32
		DepthBias             int32
		DepthBiasClamp        float32
		SlopeScaledDepthBias  float32
		DepthClipEnable       int32
		MultisampleEnable     int32
		AntialiasedLineEnable int32
		ForcedSampleCount     uint32
		ConservativeRaster    uint32
	}

	DepthStencil struct {
		DepthEnable      int32
		DepthWriteMask   uint32
		DepthFunc        uint32
		StencilEnable    int32
		StencilReadMask  uint8
		StencilWriteMask uint8
		FrontFace        depthStencilOpDesc
		BackFace         depthStencilOpDesc
	}

	InputElements         *inputElementDesc
	NumInputElements      uint32
	IBStripCutValue       uint32
	PrimitiveTopologyType uint32
	NumRenderTargets      uint32
	RTVFormats            [8]uint32
	DSVFormat             uint32
	SampleCount           uint32
	SampleQuality         uint32
	NodeMask              uint32
	CachedPSO             shaderBytecode
	Flags                 uint32
}

type vertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type indexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	Format         uint32
}

type viewport struct {
	TopLeftX, TopLeftY float32
	Width, Height      float32
	MinDepth, MaxDepth float32
}

type rect struct {
	Left, Top, Right, Bottom int32
}

type byteRange struct {
	Begin, End uintptr
}

func ptr[T any](v *T) uintptr { return uintptr(unsafe.Pointer(v)) }

// execute is the installed ExecuteCommandLists site. The overlay submits
// through it so its own lists never re-enter the queue detour.
var execute atomic.Pointer[hook.Site]

// Open binds to the ID3D12Device behind the swap chain in t.
func Open(t render.Target) (Device, error) {
	dev, err := winapi.GetDevice(t.SwapChain, iidID3D12Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", render.ErrDeviceIncompatible, err)
	}
	sc3, err := winapi.QueryInterface(t.SwapChain, winapi.IIDIDXGISwapChain3)
	if err != nil {
		winapi.Release(dev)
		return nil, fmt.Errorf("%w: IDXGISwapChain3: %v", render.ErrDeviceIncompatible, err)
	}
	return &device{swapChain: t.SwapChain, sc3: sc3, dev: dev}, nil
}

type device struct {
	swapChain uintptr // borrowed
	sc3       uintptr
	dev       uintptr
}

func (d *device) BufferCount() (int, error) {
	desc, err := winapi.GetSwapChainDesc(d.swapChain)
	if err != nil {
		return 0, err
	}
	return int(desc.BufferCount), nil
}

func (d *device) CurrentBackBuffer() int {
	return int(uint32(winapi.CallRaw(d.sc3, winapi.SwapChain3GetCurrentBackBufferIndex)))
}

func (d *device) Surface() (render.Surface, error) {
	desc, err := winapi.GetSwapChainDesc(d.swapChain)
	if err != nil {
		return render.Surface{}, err
	}
	return render.Surface{
		Size:   render.Size{Width: desc.BufferDesc.Width, Height: desc.BufferDesc.Height},
		Window: desc.OutputWindow,
	}, nil
}

func (d *device) Queue(raw uintptr) Queue { return &commandQueue{raw: raw} }

func (d *device) Release() {
	winapi.ReleaseAll(d.sc3, d.dev)
	d.sc3, d.dev = 0, 0
}

func (d *device) createHeap(kind, n, flags uint32) (uintptr, error) {
	desc := descriptorHeapDesc{Type: kind, NumDescriptors: n, Flags: flags}
	var heap uintptr
	err := winapi.Call("CreateDescriptorHeap", d.dev, devCreateDescriptorHeap, ptr(&desc), ptr(iidID3D12DescriptorHeap), ptr(&heap))
	return heap, err
}

// cpuStart and gpuStart return their handle through a hidden pointer, as
// every struct-returning COM method does.
func cpuStart(heap uintptr) uintptr {
	var h uintptr
	winapi.CallRaw(heap, heapGetCPUDescriptorHandleForHeapStart, ptr(&h))
	return h
}

func gpuStart(heap uintptr) uint64 {
	var h uint64
	winapi.CallRaw(heap, heapGetGPUDescriptorHandleForHeapStart, ptr(&h))
	return h
}

// frame is one back buffer with its view, allocator and fence.
type frame struct {
	backBuffer uintptr
	rtvHeap    uintptr
	rtv        uintptr
	allocator  uintptr
	fence      uintptr
	event      windows.Handle
}

func (d *device) CreateFrame(i int) (Frame, error) {
	f := &frame{}
	if err := f.create(d, i); err != nil {
		f.Release()
		return nil, err
	}
	return f, nil
}

func (f *frame) create(d *device, i int) error {
	var err error
	if f.backBuffer, err = winapi.GetBuffer(d.swapChain, uint32(i), iidID3D12Resource); err != nil {
		return err
	}
	if f.rtvHeap, err = d.createHeap(descriptorHeapRTV, 1, 0); err != nil {
		return err
	}
	f.rtv = cpuStart(f.rtvHeap)
	winapi.CallRaw(d.dev, devCreateRenderTargetView, f.backBuffer, 0, f.rtv)

	if err := winapi.Call("CreateCommandAllocator", d.dev, devCreateCommandAllocator,
		commandListTypeDirect, ptr(iidID3D12CommandAllocator), ptr(&f.allocator)); err != nil {
		return err
	}
	if err := winapi.Call("CreateFence", d.dev, devCreateFence, 0, 0, ptr(iidID3D12Fence), ptr(&f.fence)); err != nil {
		return err
	}
	f.event, err = windows.CreateEvent(nil, 0, 0, nil)
	return err
}

func (f *frame) Completed() uint64 {
	return uint64(winapi.CallRaw(f.fence, fenceGetCompletedValue))
}

func (f *frame) WaitFor(value uint64) error {
	if err := winapi.Call("SetEventOnCompletion", f.fence, fenceSetEventOnCompletion, uintptr(value), uintptr(f.event)); err != nil {
		return err
	}
	ev, err := windows.WaitForSingleObject(f.event, uint32(fenceTimeout/time.Millisecond))
	if err != nil {
		return err
	}
	if ev != windows.WAIT_OBJECT_0 {
		return fmt.Errorf("fence %d not reached after %v (wait %#x)", value, fenceTimeout, ev)
	}
	return nil
}

func (f *frame) ResetAllocator() error {
	return winapi.Call("ID3D12CommandAllocator::Reset", f.allocator, allocatorReset)
}

func (f *frame) Release() {
	winapi.ReleaseAll(f.fence, f.allocator, f.rtvHeap, f.backBuffer)
	if f.event != 0 {
		windows.CloseHandle(f.event)
	}
	*f = frame{}
}

type commandList struct {
	list uintptr
}

func (d *device) CreateCommandList() (CommandList, error) {
	// A list is created open and needs an allocator to record into; it is
	// closed right away and reset onto a frame's allocator per frame.
	var alloc, list uintptr
	if err := winapi.Call("CreateCommandAllocator", d.dev, devCreateCommandAllocator,
		commandListTypeDirect, ptr(iidID3D12CommandAllocator), ptr(&alloc)); err != nil {
		return nil, err
	}
	defer winapi.Release(alloc)
	if err := winapi.Call("CreateCommandList", d.dev, devCreateCommandList,
		0, commandListTypeDirect, alloc, 0, ptr(iidID3D12GraphicsCommandList), ptr(&list)); err != nil {
		return nil, err
	}
	if err := winapi.Call("Close", list, listClose); err != nil {
		winapi.Release(list)
		return nil, err
	}
	return &commandList{list: list}, nil
}

func (l *commandList) Reset(f Frame) error {
	return winapi.Call("ID3D12GraphicsCommandList::Reset", l.list, listReset, f.(*frame).allocator, 0)
}

func (l *commandList) Transition(f Frame, before, after ResourceState) {
	b := resourceBarrier{
		Type:        barrierTypeTransition,
		Resource:    f.(*frame).backBuffer,
		Subresource: allSubresources,
		StateBefore: uint32(before),
		StateAfter:  uint32(after),
	}
	winapi.CallRaw(l.list, listResourceBarrier, 1, ptr(&b))
}

func (l *commandList) Bind(pl Pipeline, fr Frame, idx int, size render.Size, proj [16]float32) {
	p, f := pl.(*pipeline), fr.(*frame)
	g := &p.frames[idx]
	x := l.list

	vp := viewport{Width: float32(size.Width), Height: float32(size.Height), MaxDepth: 1}
	winapi.CallRaw(x, listRSSetViewports, 1, ptr(&vp))

	vbv := vertexBufferView{
		BufferLocation: uint64(winapi.CallRaw(g.vb, resourceGetGPUVirtualAddress)),
		SizeInBytes:    uint32(g.vbCap * render.VertexSize),
		StrideInBytes:  render.VertexSize,
	}
	ibv := indexBufferView{
		BufferLocation: uint64(winapi.CallRaw(g.ib, resourceGetGPUVirtualAddress)),
		SizeInBytes:    uint32(g.ibCap * 2),
		Format:         winapi.FormatR16Uint,
	}
	winapi.CallRaw(x, listIASetVertexBuffers, 0, 1, ptr(&vbv))
	winapi.CallRaw(x, listIASetIndexBuffer, ptr(&ibv))
	winapi.CallRaw(x, listIASetPrimitiveTopology, topologyTriangleList)
	winapi.CallRaw(x, listSetPipelineState, p.pso)
	winapi.CallRaw(x, listSetGraphicsRootSignature, p.root)
	winapi.CallRaw(x, listSetGraphicsRoot32BitConstants, 0, 16, ptr(&proj), 0)

	var factor [4]float32
	winapi.CallRaw(x, listOMSetBlendFactor, ptr(&factor))
	winapi.CallRaw(x, listOMSetRenderTargets, 1, ptr(&f.rtv), 0, 0)
	winapi.CallRaw(x, listSetDescriptorHeaps, 1, ptr(&p.srvHeap))
	winapi.CallRaw(x, listSetGraphicsRootDescriptorTable, 1, uintptr(gpuStart(p.srvHeap)))
}

func (l *commandList) SetScissor(r render.Rect) {
	rc := rect{Left: r.X0, Top: r.Y0, Right: r.X1, Bottom: r.Y1}
	winapi.CallRaw(l.list, listRSSetScissorRects, 1, ptr(&rc))
}

func (l *commandList) DrawIndexed(count, startIndex uint32, baseVertex int32) {
	winapi.CallRaw(l.list, listDrawIndexedInstanced, uintptr(count), 1, uintptr(startIndex), uintptr(baseVertex), 0)
}

func (l *commandList) Close() error {
	return winapi.Call("ID3D12GraphicsCommandList::Close", l.list, listClose)
}

func (l *commandList) Release() {
	winapi.Release(l.list)
	l.list = 0
}

type commandQueue struct {
	raw uintptr
}

func (q *commandQueue) Raw() uintptr { return q.raw }

func (q *commandQueue) Execute(l CommandList) {
	lists := [1]uintptr{l.(*commandList).list}
	if site := execute.Load(); site != nil {
		site.Call(q.raw, 1, ptr(&lists))
		return
	}
	winapi.CallRaw(q.raw, queueExecuteCommandLists, 1, ptr(&lists))
}

func (q *commandQueue) Signal(f Frame, value uint64) error {
	return winapi.Call("ID3D12CommandQueue::Signal", q.raw, queueSignal, f.(*frame).fence, uintptr(value))
}

// isDirect reports whether q is a direct (graphics) queue.
func isDirect(q uintptr) bool {
	var desc commandQueueDesc
	desc.Type = 0xffffffff
	winapi.CallRaw(q, queueGetDesc, ptr(&desc))
	return desc.Type == commandListTypeDirect
}

// frameBuffers are the upload-heap geometry buffers of one back buffer.
type frameBuffers struct {
	vb, ib       uintptr
	vbCap, ibCap int
}

type pipeline struct {
	dev uintptr

	root, pso uintptr
	srvHeap   uintptr
	texture   uintptr
	frames    []frameBuffers
}

func (d *device) CreatePipeline(atlas *render.Atlas, frames int) (Pipeline, error) {
	p := &pipeline{dev: d.dev, frames: make([]frameBuffers, frames)}
	if err := p.create(d, atlas); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// compile runs D3DCompile and returns the bytecode blob.
func compile(src, target string) (uintptr, error) {
	if err := procD3DCompile.Find(); err != nil {
		return 0, err
	}
	srcBytes := []byte(src)
	entry, _ := windows.BytePtrFromString("main")
	tgt, _ := windows.BytePtrFromString(target)
	var code, errBlob uintptr
	hr, _, _ := procD3DCompile.Call(
		uintptr(unsafe.Pointer(&srcBytes[0])), uintptr(len(srcBytes)),
		0, 0, 0,
		uintptr(unsafe.Pointer(entry)), uintptr(unsafe.Pointer(tgt)),
		0, 0,
		ptr(&code), ptr(&errBlob),
	)
	if winapi.Failed(hr) {
		msg := string(winapi.BlobBytes(errBlob))
		winapi.Release(errBlob)
		return 0, fmt.Errorf("D3DCompile %s: %w: %s", target, winapi.HRESULT(hr), msg)
	}
	winapi.Release(errBlob)
	return code, nil
}

func (p *pipeline) create(d *device, atlas *render.Atlas) error {
	if err := p.createRootSignature(); err != nil {
		return err
	}
	if err := p.createPipelineState(); err != nil {
		return err
	}
	var err error
	if p.srvHeap, err = d.createHeap(descriptorHeapCBVSRVUAV, 1, descriptorHeapShaderVisible); err != nil {
		return err
	}
	return p.createAtlas(atlas)
}

func (p *pipeline) createRootSignature() error {
	ranges := []descriptorRange{{RangeType: rangeTypeSRV, NumDescriptors: 1}}
	params := []rootParameter{
		constantsParameter(0, 16, visibilityVertex),
		tableParameter(ranges, visibilityPixel),
	}
	sampler := staticSamplerDesc{
		Filter:           filterMinMagMipLinear,
		AddressU:         addressWrap,
		AddressV:         addressWrap,
		AddressW:         addressWrap,
		ComparisonFunc:   comparisonAlways,
		BorderColor:      borderTransparent,
		ShaderVisibility: visibilityPixel,
	}
	desc := rootSignatureDesc{
		NumParameters:     uint32(len(params)),
		Parameters:        &params[0],
		NumStaticSamplers: 1,
		StaticSamplers:    &sampler,
		Flags:             rootSignatureFlags,
	}
	if err := procD3D12SerializeRootSignature.Find(); err != nil {
		return err
	}
	var blob, errBlob uintptr
	hr, _, _ := procD3D12SerializeRootSignature.Call(ptr(&desc), rootSignatureVersion1, ptr(&blob), ptr(&errBlob))
	runtime.KeepAlive(&desc)
	runtime.KeepAlive(ranges)
	if winapi.Failed(hr) {
		msg := string(winapi.BlobBytes(errBlob))
		winapi.Release(errBlob)
		return fmt.Errorf("D3D12SerializeRootSignature: %w: %s", winapi.HRESULT(hr), msg)
	}
	winapi.Release(errBlob)
	defer winapi.Release(blob)
	b := winapi.BlobBytes(blob)
	return winapi.Call("CreateRootSignature", p.dev, devCreateRootSignature,
		0, uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), ptr(iidID3D12RootSignature), ptr(&p.root))
}

func (p *pipeline) createPipelineState() error {
	vsBlob, err := compile(vertexShaderSource, "vs_5_0")
	if err != nil {
		return err
	}
	defer winapi.Release(vsBlob)
	psBlob, err := compile(pixelShaderSource, "ps_5_0")
	if err != nil {
		return err
	}
	defer winapi.Release(psBlob)
	vs, ps := winapi.BlobBytes(vsBlob), winapi.BlobBytes(psBlob)

	layout := []inputElementDesc{
		{SemanticName: &semPosition[0], Format: winapi.FormatR32G32Float, AlignedByteOffset: 0, InputSlotClass: inputPerVertexData},
		{SemanticName: &semTexcoord[0], Format: winapi.FormatR32G32Float, AlignedByteOffset: 8, InputSlotClass: inputPerVertexData},
		{SemanticName: &semColor[0], Format: winapi.FormatR8G8B8A8Unorm, AlignedByteOffset: 16, InputSlotClass: inputPerVertexData},
	}

	var desc graphicsPipelineDesc
	desc.RootSignature = p.root
	desc.VS = shaderBytecode{Code: uintptr(unsafe.Pointer(&vs[0])), Size: uintptr(len(vs))}
	desc.PS = shaderBytecode{Code: uintptr(unsafe.Pointer(&ps[0])), Size: uintptr(len(ps))}
	desc.RenderTargetBlend[0] = renderTargetBlendDesc{
		BlendEnable: 1,
		SrcBlend:    blendSrcAlpha, DestBlend: blendInvSrcAlpha, BlendOp: blendOpAdd,
		SrcBlendAlpha: blendOne, DestBlendAlpha: blendInvSrcAlpha, BlendOpAlpha: blendOpAdd,
		LogicOp:               logicOpNoop,
		RenderTargetWriteMask: colorWriteAll,
	}
	desc.SampleMask = 0xffffffff
	desc.Rasterizer.FillMode = fillSolid
	desc.Rasterizer.CullMode = cullNone
	desc.Rasterizer.DepthClipEnable = 1
	op := depthStencilOpDesc{StencilFailOp: stencilOpKeep, StencilDepthFailOp: stencilOpKeep, StencilPassOp: stencilOpKeep, StencilFunc: comparisonAlways}
	desc.DepthStencil.DepthFunc = comparisonAlways
	desc.DepthStencil.FrontFace, desc.DepthStencil.BackFace = op, op
	desc.InputElements = &layout[0]
	desc.NumInputElements = uint32(len(layout))
	desc.PrimitiveTopologyType = topologyTypeTriangle
	desc.NumRenderTargets = 1
	desc.RTVFormats[0] = winapi.FormatR8G8B8A8Unorm
	desc.SampleCount = 1

	return winapi.Call("CreateGraphicsPipelineState", p.dev, devCreateGraphicsPipelineState,
		ptr(&desc), ptr(iidID3D12PipelineState), ptr(&p.pso))
}

// createAtlas puts the atlas in a CPU-writable texture so it can be filled
// without a queue of the overlay's own.
func (p *pipeline) createAtlas(atlas *render.Atlas) error {
	heap := heapProperties{Type: heapTypeCustom, CPUPageProperty: cpuPageWriteBack, MemoryPoolPreference: memoryPoolL0}
	desc := resourceDesc{
		Dimension:        resourceDimTexture2D,
		Width:            uint64(atlas.Width),
		Height:           uint32(atlas.Height),
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           winapi.FormatR8G8B8A8Unorm,
		SampleCount:      1,
	}
	if err := winapi.Call("CreateCommittedResource(atlas)", p.dev, devCreateCommittedResource,
		ptr(&heap), 0, ptr(&desc), stateCommon, 0, ptr(iidID3D12Resource), ptr(&p.texture)); err != nil {
		return err
	}
	if err := winapi.Call("Map(atlas)", p.texture, resourceMap, 0, 0, 0); err != nil {
		return err
	}
	err := winapi.Call("WriteToSubresource", p.texture, resourceWriteToSubresource,
		0, 0, uintptr(unsafe.Pointer(&atlas.Pixels[0])), uintptr(atlas.Stride()), uintptr(len(atlas.Pixels)))
	winapi.CallRaw(p.texture, resourceUnmap, 0, 0)
	if err != nil {
		return err
	}

	srv := srvDesc{
		Format:                  winapi.FormatR8G8B8A8Unorm,
		ViewDimension:           srvDimensionTexture2D,
		Shader4ComponentMapping: defaultComponentMap,
		MipLevels:               1,
	}
	winapi.CallRaw(p.dev, devCreateShaderResourceView, p.texture, ptr(&srv), cpuStart(p.srvHeap))
	return nil
}

func (p *pipeline) grow(buf *uintptr, capacity *int, need, slack, elem int) error {
	if *buf != 0 && *capacity >= need {
		return nil
	}
	winapi.Release(*buf)
	*buf, *capacity = 0, 0
	n := need + slack
	heap := heapProperties{Type: heapTypeUpload}
	desc := resourceDesc{
		Dimension:        resourceDimBuffer,
		Width:            uint64(n * elem),
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		SampleCount:      1,
		Layout:           layoutRowMajor,
	}
	if err := winapi.Call("CreateCommittedResource", p.dev, devCreateCommittedResource,
		ptr(&heap), 0, ptr(&desc), stateGenericRead, 0, ptr(iidID3D12Resource), ptr(buf)); err != nil {
		return fmt.Errorf("%w: %v", render.ErrResourceAllocation, err)
	}
	*capacity = n
	return nil
}

func mapBuffer(res uintptr) (uintptr, error) {
	var data uintptr
	var none byteRange
	err := winapi.Call("Map", res, resourceMap, 0, ptr(&none), ptr(&data))
	return data, err
}

func (p *pipeline) Upload(idx int, dd *render.DrawData) error {
	for len(p.frames) <= idx {
		p.frames = append(p.frames, frameBuffers{})
	}
	g := &p.frames[idx]
	nv, ni := dd.TotalVertices(), dd.TotalIndices()
	if err := p.grow(&g.vb, &g.vbCap, nv, vertexSlack, render.VertexSize); err != nil {
		return err
	}
	if err := p.grow(&g.ib, &g.ibCap, ni, indexSlack, 2); err != nil {
		return err
	}

	vdata, err := mapBuffer(g.vb)
	if err != nil {
		return err
	}
	idata, err := mapBuffer(g.ib)
	if err != nil {
		winapi.CallRaw(g.vb, resourceUnmap, 0, 0)
		return err
	}
	vdst := unsafe.Slice((*render.Vertex)(unsafe.Pointer(vdata)), nv)
	idst := unsafe.Slice((*uint16)(unsafe.Pointer(idata)), ni)
	for i := range dd.Lists {
		l := &dd.Lists[i]
		vdst = vdst[copy(vdst, l.Vertices):]
		idst = idst[copy(idst, l.Indices):]
	}
	winapi.CallRaw(g.vb, resourceUnmap, 0, 0)
	winapi.CallRaw(g.ib, resourceUnmap, 0, 0)
	return nil
}

func (p *pipeline) Release() {
	for i := range p.frames {
		winapi.ReleaseAll(p.frames[i].vb, p.frames[i].ib)
	}
	winapi.ReleaseAll(p.texture, p.srvHeap, p.pso, p.root)
	*p = pipeline{dev: p.dev}
}
