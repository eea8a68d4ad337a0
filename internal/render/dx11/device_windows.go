//go:build windows

package dx11

import (
	"fmt"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

// ID3D11Device vtable indices.
const (
	devCreateBuffer             = 3
	devCreateTexture2D          = 5
	devCreateShaderResourceView = 7
	devCreateRenderTargetView   = 9
	devCreateInputLayout        = 11
	devCreateVertexShader       = 12
	devCreatePixelShader        = 15
	devCreateBlendState         = 20
	devCreateDepthStencilState  = 21
	devCreateRasterizerState    = 22
	devCreateSamplerState       = 23
	devGetFeatureLevel          = 37
	devGetImmediateContext      = 40

	// ID3D11Texture2D::GetDesc
	texGetDesc = 10
)

// ID3D11DeviceContext vtable indices.
const (
	ctxVSSetConstantBuffers   = 7
	ctxPSSetShaderResources   = 8
	ctxPSSetShader            = 9
	ctxPSSetSamplers          = 10
	ctxVSSetShader            = 11
	ctxDrawIndexed            = 12
	ctxMap                    = 14
	ctxUnmap                  = 15
	ctxIASetInputLayout       = 17
	ctxIASetVertexBuffers     = 18
	ctxIASetIndexBuffer       = 19
	ctxGSSetShader            = 23
	ctxIASetPrimitiveTopology = 24
	ctxOMSetRenderTargets     = 33
	ctxOMSetBlendState        = 35
	ctxOMSetDepthStencilState = 36
	ctxRSSetState             = 43
	ctxRSSetViewports         = 44
	ctxRSSetScissorRects      = 45
	ctxVSGetConstantBuffers   = 72
	ctxPSGetShaderResources   = 73
	ctxPSGetShader            = 74
	ctxPSGetSamplers          = 75
	ctxVSGetShader            = 76
	ctxIAGetInputLayout       = 78
	ctxIAGetVertexBuffers     = 79
	ctxIAGetIndexBuffer       = 80
	ctxGSGetShader            = 82
	ctxIAGetPrimitiveTopology = 83
	ctxOMGetRenderTargets     = 89
	ctxOMGetBlendState        = 91
	ctxOMGetDepthStencilState = 92
	ctxRSGetState             = 94
	ctxRSGetViewports         = 95
	ctxRSGetScissorRects      = 96
)

const (
	usageDefault = 0
	usageDynamic = 2

	bindVertexBuffer   = 0x1
	bindIndexBuffer    = 0x2
	bindConstantBuffer = 0x4
	bindShaderResource = 0x8

	cpuAccessWrite  = 0x10000
	mapWriteDiscard = 4

	srvDimensionTexture2D = 4
	inputPerVertexData    = 0
	topologyTriangleList  = 4

	blendZero        = 1
	blendOne         = 2
	blendSrcAlpha    = 5
	blendInvSrcAlpha = 6
	blendOpAdd       = 1
	colorWriteAll    = 0xF

	fillSolid        = 3
	cullNone         = 1
	comparisonAlways = 8
	stencilOpKeep    = 1
	depthWriteZero   = 0

	filterMinMagMipLinear = 0x15
	addressWrap           = 1

	// Headroom added when the geometry buffers grow.
	vertexSlack = 5000
	indexSlack  = 10000
)

var (
	iidID3D11Device    = ole.NewGUID("{db6f6ddb-ac77-4e88-8253-819df9bbf140}")
	iidID3D11Texture2D = ole.NewGUID("{6f15aaf2-d208-4e89-9ab4-489535d34f9c}")

	compilerDLL    = windows.NewLazySystemDLL("d3dcompiler_47.dll")
	procD3DCompile = compilerDLL.NewProc("D3DCompile")

	semPosition = []byte("POSITION\x00")
	semTexcoord = []byte("TEXCOORD\x00")
	semColor    = []byte("COLOR\x00")
)

const vertexShaderSource = `
cbuffer vertexBuffer : register(b0) { float4x4 ProjectionMatrix; };
struct VS_INPUT { float2 pos : POSITION; float4 col : COLOR0; float2 uv : TEXCOORD0; };
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
sampler sampler0;
Texture2D texture0;
float4 main(PS_INPUT input) : SV_Target {
	return input.col * texture0.Sample(sampler0, input.uv);
}`

type bufferDesc struct {
	ByteWidth           uint32
	Usage               uint32
	BindFlags           uint32
	CPUAccessFlags      uint32
	MiscFlags           uint32
	StructureByteStride uint32
}

type subresourceData struct {
	SysMem           uintptr
	SysMemPitch      uint32
	SysMemSlicePitch uint32
}

type mappedSubresource struct {
	Data       uintptr
	RowPitch   uint32
	DepthPitch uint32
}

type texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

type srvDescTex2D struct {
	Format          uint32
	ViewDimension   uint32
	MostDetailedMip uint32
	MipLevels       uint32
	_               [2]uint32 // rest of the union
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
	SrcBlend              uint32
	DestBlend             uint32
	BlendOp               uint32
	SrcBlendAlpha         uint32
	DestBlendAlpha        uint32
	BlendOpAlpha          uint32
	RenderTargetWriteMask uint8
}

type blendDesc struct {
	AlphaToCoverageEnable  int32
	IndependentBlendEnable int32
	RenderTarget           [8]renderTargetBlendDesc
}

type rasterizerDesc struct {
	FillMode              uint32
	CullMode              uint32
	FrontCounterClockwise int32
	DepthBias             int32
	DepthBiasClamp        float32
	SlopeScaledDepthBias  float32
	DepthClipEnable       int32
	ScissorEnable         int32
	MultisampleEnable     int32
	AntialiasedLineEnable int32
}

type depthStencilOpDesc struct {
	StencilFailOp      uint32
	StencilDepthFailOp uint32
	StencilPassOp      uint32
	StencilFunc        uint32
}

type depthStencilDesc struct {
	DepthEnable      int32
	DepthWriteMask   uint32
	DepthFunc        uint32
	StencilEnable    int32
	StencilReadMask  uint8
	StencilWriteMask uint8
	FrontFace        depthStencilOpDesc
	BackFace         depthStencilOpDesc
}

type samplerDesc struct {
	Filter         uint32
	AddressU       uint32
	AddressV       uint32
	AddressW       uint32
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc uint32
	BorderColor    [4]float32
	MinLOD         float32
	MaxLOD         float32
}

func ptr[T any](v *T) uintptr { return uintptr(unsafe.Pointer(v)) }

// Open binds to the ID3D11Device behind the swap chain in t. It fails for
// swap chains created on another API's device.
func Open(t render.Target) (Device, error) {
	dev, err := winapi.GetDevice(t.SwapChain, iidID3D11Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", render.ErrDeviceIncompatible, err)
	}
	var ctx uintptr
	winapi.CallRaw(dev, devGetImmediateContext, ptr(&ctx))
	if ctx == 0 {
		winapi.Release(dev)
		return nil, fmt.Errorf("%w: no immediate context", render.ErrDeviceIncompatible)
	}
	return &device{swapChain: t.SwapChain, dev: dev, ctx: &immediateContext{ctx: ctx}}, nil
}

type device struct {
	swapChain uintptr // borrowed
	dev       uintptr
	ctx       *immediateContext
}

func (d *device) FeatureLevel() uint32 { return uint32(winapi.CallRaw(d.dev, devGetFeatureLevel)) }
func (d *device) Context() Context     { return d.ctx }

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

func (d *device) CreateRenderTarget() (RenderTarget, error) {
	tex, err := winapi.GetBuffer(d.swapChain, 0, iidID3D11Texture2D)
	if err != nil {
		return nil, err
	}
	defer winapi.Release(tex)

	var desc texture2DDesc
	winapi.CallRaw(tex, texGetDesc, ptr(&desc))

	var rtv uintptr
	if err := winapi.Call("CreateRenderTargetView", d.dev, devCreateRenderTargetView, tex, 0, ptr(&rtv)); err != nil {
		return nil, err
	}
	return &renderTarget{rtv: rtv, size: render.Size{Width: desc.Width, Height: desc.Height}}, nil
}

func (d *device) Release() {
	winapi.Release(d.ctx.ctx)
	winapi.Release(d.dev)
	d.ctx.ctx, d.dev = 0, 0
}

type renderTarget struct {
	rtv  uintptr
	size render.Size
}

func (r *renderTarget) Size() render.Size { return r.size }

func (r *renderTarget) Release() {
	winapi.Release(r.rtv)
	r.rtv = 0
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

type pipeline struct {
	dev uintptr

	vs, ps, layout, cb    uintptr
	blend, raster, depth  uintptr
	sampler, texture, srv uintptr
	vb, ib                uintptr
	vbCap, ibCap          int
}

func (d *device) CreatePipeline(atlas *render.Atlas) (Pipeline, error) {
	p := &pipeline{dev: d.dev}
	if err := p.create(atlas); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) create(atlas *render.Atlas) error {
	vsBlob, err := compile(vertexShaderSource, "vs_4_0")
	if err != nil {
		return err
	}
	defer winapi.Release(vsBlob)
	vsCode := winapi.BlobBytes(vsBlob)
	if err := winapi.Call("CreateVertexShader", p.dev, devCreateVertexShader,
		uintptr(unsafe.Pointer(&vsCode[0])), uintptr(len(vsCode)), 0, ptr(&p.vs)); err != nil {
		return err
	}

	layout := []inputElementDesc{
		{SemanticName: &semPosition[0], Format: winapi.FormatR32G32Float, AlignedByteOffset: 0, InputSlotClass: inputPerVertexData},
		{SemanticName: &semTexcoord[0], Format: winapi.FormatR32G32Float, AlignedByteOffset: 8, InputSlotClass: inputPerVertexData},
		{SemanticName: &semColor[0], Format: winapi.FormatR8G8B8A8Unorm, AlignedByteOffset: 16, InputSlotClass: inputPerVertexData},
	}
	if err := winapi.Call("CreateInputLayout", p.dev, devCreateInputLayout,
		uintptr(unsafe.Pointer(&layout[0])), uintptr(len(layout)),
		uintptr(unsafe.Pointer(&vsCode[0])), uintptr(len(vsCode)), ptr(&p.layout)); err != nil {
		return err
	}

	cbDesc := bufferDesc{ByteWidth: 64, Usage: usageDynamic, BindFlags: bindConstantBuffer, CPUAccessFlags: cpuAccessWrite}
	if err := winapi.Call("CreateBuffer(constants)", p.dev, devCreateBuffer, ptr(&cbDesc), 0, ptr(&p.cb)); err != nil {
		return err
	}

	psBlob, err := compile(pixelShaderSource, "ps_4_0")
	if err != nil {
		return err
	}
	defer winapi.Release(psBlob)
	psCode := winapi.BlobBytes(psBlob)
	if err := winapi.Call("CreatePixelShader", p.dev, devCreatePixelShader,
		uintptr(unsafe.Pointer(&psCode[0])), uintptr(len(psCode)), 0, ptr(&p.ps)); err != nil {
		return err
	}

	bd := blendDesc{}
	bd.RenderTarget[0] = renderTargetBlendDesc{
		BlendEnable: 1,
		SrcBlend:    blendSrcAlpha, DestBlend: blendInvSrcAlpha, BlendOp: blendOpAdd,
		SrcBlendAlpha: blendOne, DestBlendAlpha: blendInvSrcAlpha, BlendOpAlpha: blendOpAdd,
		RenderTargetWriteMask: colorWriteAll,
	}
	if err := winapi.Call("CreateBlendState", p.dev, devCreateBlendState, ptr(&bd), ptr(&p.blend)); err != nil {
		return err
	}

	rd := rasterizerDesc{FillMode: fillSolid, CullMode: cullNone, ScissorEnable: 1, DepthClipEnable: 1}
	if err := winapi.Call("CreateRasterizerState", p.dev, devCreateRasterizerState, ptr(&rd), ptr(&p.raster)); err != nil {
		return err
	}

	op := depthStencilOpDesc{StencilFailOp: stencilOpKeep, StencilDepthFailOp: stencilOpKeep, StencilPassOp: stencilOpKeep, StencilFunc: comparisonAlways}
	dd := depthStencilDesc{DepthWriteMask: depthWriteZero, DepthFunc: comparisonAlways, FrontFace: op, BackFace: op}
	if err := winapi.Call("CreateDepthStencilState", p.dev, devCreateDepthStencilState, ptr(&dd), ptr(&p.depth)); err != nil {
		return err
	}

	sd := samplerDesc{Filter: filterMinMagMipLinear, AddressU: addressWrap, AddressV: addressWrap, AddressW: addressWrap, ComparisonFunc: comparisonAlways}
	if err := winapi.Call("CreateSamplerState", p.dev, devCreateSamplerState, ptr(&sd), ptr(&p.sampler)); err != nil {
		return err
	}

	td := texture2DDesc{
		Width: uint32(atlas.Width), Height: uint32(atlas.Height),
		MipLevels: 1, ArraySize: 1, Format: winapi.FormatR8G8B8A8Unorm,
		SampleCount: 1, Usage: usageDefault, BindFlags: bindShaderResource,
	}
	initial := subresourceData{SysMem: uintptr(unsafe.Pointer(&atlas.Pixels[0])), SysMemPitch: uint32(atlas.Stride())}
	if err := winapi.Call("CreateTexture2D(atlas)", p.dev, devCreateTexture2D, ptr(&td), ptr(&initial), ptr(&p.texture)); err != nil {
		return err
	}
	srv := srvDescTex2D{Format: winapi.FormatR8G8B8A8Unorm, ViewDimension: srvDimensionTexture2D, MipLevels: 1}
	return winapi.Call("CreateShaderResourceView", p.dev, devCreateShaderResourceView, p.texture, ptr(&srv), ptr(&p.srv))
}

func (p *pipeline) grow(buf *uintptr, capacity *int, need, slack, elem int, bind uint32) error {
	if *buf != 0 && *capacity >= need {
		return nil
	}
	winapi.Release(*buf)
	*buf = 0
	n := need + slack
	desc := bufferDesc{ByteWidth: uint32(n * elem), Usage: usageDynamic, BindFlags: bind, CPUAccessFlags: cpuAccessWrite}
	if err := winapi.Call("CreateBuffer", p.dev, devCreateBuffer, ptr(&desc), 0, ptr(buf)); err != nil {
		*capacity = 0
		return fmt.Errorf("%w: %v", render.ErrResourceAllocation, err)
	}
	*capacity = n
	return nil
}

// Upload copies the frame's geometry into the dynamic buffers, growing them
// when the frame outgrows them.
func (p *pipeline) Upload(c Context, dd *render.DrawData) error {
	ctx := c.(*immediateContext).ctx
	nv, ni := dd.TotalVertices(), dd.TotalIndices()
	if err := p.grow(&p.vb, &p.vbCap, nv, vertexSlack, render.VertexSize, bindVertexBuffer); err != nil {
		return err
	}
	if err := p.grow(&p.ib, &p.ibCap, ni, indexSlack, 2, bindIndexBuffer); err != nil {
		return err
	}

	var vm, im mappedSubresource
	if err := winapi.Call("Map(vertices)", ctx, ctxMap, p.vb, 0, mapWriteDiscard, 0, ptr(&vm)); err != nil {
		return err
	}
	if err := winapi.Call("Map(indices)", ctx, ctxMap, p.ib, 0, mapWriteDiscard, 0, ptr(&im)); err != nil {
		winapi.CallRaw(ctx, ctxUnmap, p.vb, 0)
		return err
	}
	vdst := unsafe.Slice((*render.Vertex)(unsafe.Pointer(vm.Data)), nv)
	idst := unsafe.Slice((*uint16)(unsafe.Pointer(im.Data)), ni)
	for i := range dd.Lists {
		l := &dd.Lists[i]
		vdst = vdst[copy(vdst, l.Vertices):]
		idst = idst[copy(idst, l.Indices):]
	}
	winapi.CallRaw(ctx, ctxUnmap, p.vb, 0)
	winapi.CallRaw(ctx, ctxUnmap, p.ib, 0)
	return nil
}

func (p *pipeline) Release() {
	winapi.ReleaseAll(p.vb, p.ib, p.srv, p.texture, p.sampler, p.depth, p.raster, p.blend, p.ps, p.cb, p.layout, p.vs)
	*p = pipeline{dev: p.dev}
}

// immediateContext wraps the host's immediate context.
type immediateContext struct {
	ctx uintptr
}

func (c *immediateContext) Capture() State {
	var s State
	x := c.ctx
	s.ScissorCount, s.ViewportCount = maxViewports, maxViewports
	winapi.CallRaw(x, ctxRSGetScissorRects, ptr(&s.ScissorCount), ptr(&s.Scissors))
	winapi.CallRaw(x, ctxRSGetViewports, ptr(&s.ViewportCount), ptr(&s.Viewports))
	winapi.CallRaw(x, ctxRSGetState, ptr(&s.RasterizerState))
	winapi.CallRaw(x, ctxOMGetBlendState, ptr(&s.BlendState), ptr(&s.BlendFactor), ptr(&s.SampleMask))
	winapi.CallRaw(x, ctxOMGetDepthStencilState, ptr(&s.DepthStencilState), ptr(&s.StencilRef))
	winapi.CallRaw(x, ctxOMGetRenderTargets, 1, ptr(&s.RenderTarget), ptr(&s.DepthStencil))
	winapi.CallRaw(x, ctxPSGetShaderResources, 0, 1, ptr(&s.PSShaderResource))
	winapi.CallRaw(x, ctxPSGetSamplers, 0, 1, ptr(&s.PSSampler))
	s.PSInstanceCount, s.VSInstanceCount, s.GSInstanceCount = maxClassInstances, maxClassInstances, maxClassInstances
	winapi.CallRaw(x, ctxPSGetShader, ptr(&s.PixelShader), ptr(&s.PSInstances), ptr(&s.PSInstanceCount))
	winapi.CallRaw(x, ctxVSGetShader, ptr(&s.VertexShader), ptr(&s.VSInstances), ptr(&s.VSInstanceCount))
	winapi.CallRaw(x, ctxGSGetShader, ptr(&s.GeometryShader), ptr(&s.GSInstances), ptr(&s.GSInstanceCount))
	winapi.CallRaw(x, ctxVSGetConstantBuffers, 0, 1, ptr(&s.VSConstantBuffer))
	winapi.CallRaw(x, ctxIAGetPrimitiveTopology, ptr(&s.PrimitiveTopology))
	winapi.CallRaw(x, ctxIAGetIndexBuffer, ptr(&s.IndexBuffer), ptr(&s.IndexFormat), ptr(&s.IndexOffset))
	winapi.CallRaw(x, ctxIAGetVertexBuffers, 0, 1, ptr(&s.VertexBuffer), ptr(&s.VertexStride), ptr(&s.VertexOffset))
	winapi.CallRaw(x, ctxIAGetInputLayout, ptr(&s.InputLayout))
	return s
}

func (c *immediateContext) Restore(s State) {
	x := c.ctx
	winapi.CallRaw(x, ctxRSSetScissorRects, uintptr(s.ScissorCount), ptr(&s.Scissors))
	winapi.CallRaw(x, ctxRSSetViewports, uintptr(s.ViewportCount), ptr(&s.Viewports))
	winapi.CallRaw(x, ctxRSSetState, s.RasterizerState)
	winapi.CallRaw(x, ctxOMSetBlendState, s.BlendState, ptr(&s.BlendFactor), uintptr(s.SampleMask))
	winapi.CallRaw(x, ctxOMSetDepthStencilState, s.DepthStencilState, uintptr(s.StencilRef))
	winapi.CallRaw(x, ctxOMSetRenderTargets, 1, ptr(&s.RenderTarget), s.DepthStencil)
	winapi.CallRaw(x, ctxPSSetShaderResources, 0, 1, ptr(&s.PSShaderResource))
	winapi.CallRaw(x, ctxPSSetSamplers, 0, 1, ptr(&s.PSSampler))
	winapi.CallRaw(x, ctxPSSetShader, s.PixelShader, ptr(&s.PSInstances), uintptr(s.PSInstanceCount))
	winapi.CallRaw(x, ctxVSSetShader, s.VertexShader, ptr(&s.VSInstances), uintptr(s.VSInstanceCount))
	winapi.CallRaw(x, ctxGSSetShader, s.GeometryShader, ptr(&s.GSInstances), uintptr(s.GSInstanceCount))
	winapi.CallRaw(x, ctxVSSetConstantBuffers, 0, 1, ptr(&s.VSConstantBuffer))
	winapi.CallRaw(x, ctxIASetPrimitiveTopology, uintptr(s.PrimitiveTopology))
	winapi.CallRaw(x, ctxIASetIndexBuffer, s.IndexBuffer, uintptr(s.IndexFormat), uintptr(s.IndexOffset))
	winapi.CallRaw(x, ctxIASetVertexBuffers, 0, 1, ptr(&s.VertexBuffer), ptr(&s.VertexStride), ptr(&s.VertexOffset))
	winapi.CallRaw(x, ctxIASetInputLayout, s.InputLayout)
}

func (c *immediateContext) ReleaseState(s State) {
	winapi.ReleaseAll(s.Objects()...)
}

func (c *immediateContext) Setup(pl Pipeline, rt RenderTarget, proj [16]float32) {
	p, r := pl.(*pipeline), rt.(*renderTarget)
	x := c.ctx

	var m mappedSubresource
	if err := winapi.Call("Map(constants)", x, ctxMap, p.cb, 0, mapWriteDiscard, 0, ptr(&m)); err == nil {
		*(*[16]float32)(unsafe.Pointer(m.Data)) = proj
		winapi.CallRaw(x, ctxUnmap, p.cb, 0)
	} else {
		log.Debug("projection not updated", logging.KeyError, err)
	}

	size := r.Size()
	vp := Viewport{Width: float32(size.Width), Height: float32(size.Height), MaxDepth: 1}
	winapi.CallRaw(x, ctxRSSetViewports, 1, ptr(&vp))

	stride, offset := uint32(render.VertexSize), uint32(0)
	winapi.CallRaw(x, ctxIASetInputLayout, p.layout)
	winapi.CallRaw(x, ctxIASetVertexBuffers, 0, 1, ptr(&p.vb), ptr(&stride), ptr(&offset))
	winapi.CallRaw(x, ctxIASetIndexBuffer, p.ib, winapi.FormatR16Uint, 0)
	winapi.CallRaw(x, ctxIASetPrimitiveTopology, topologyTriangleList)
	winapi.CallRaw(x, ctxVSSetShader, p.vs, 0, 0)
	winapi.CallRaw(x, ctxVSSetConstantBuffers, 0, 1, ptr(&p.cb))
	winapi.CallRaw(x, ctxPSSetShader, p.ps, 0, 0)
	winapi.CallRaw(x, ctxPSSetSamplers, 0, 1, ptr(&p.sampler))
	winapi.CallRaw(x, ctxPSSetShaderResources, 0, 1, ptr(&p.srv))
	winapi.CallRaw(x, ctxGSSetShader, 0, 0, 0)

	var factor [4]float32
	winapi.CallRaw(x, ctxOMSetRenderTargets, 1, ptr(&r.rtv), 0)
	winapi.CallRaw(x, ctxOMSetBlendState, p.blend, ptr(&factor), 0xffffffff)
	winapi.CallRaw(x, ctxOMSetDepthStencilState, p.depth, 0)
	winapi.CallRaw(x, ctxRSSetState, p.raster)
}

func (c *immediateContext) SetScissor(r render.Rect) {
	rc := ScissorRect{Left: r.X0, Top: r.Y0, Right: r.X1, Bottom: r.Y1}
	winapi.CallRaw(c.ctx, ctxRSSetScissorRects, 1, ptr(&rc))
}

func (c *immediateContext) DrawIndexed(count, startIndex uint32, baseVertex int32) {
	winapi.CallRaw(c.ctx, ctxDrawIndexed, uintptr(count), uintptr(startIndex), uintptr(baseVertex))
}
