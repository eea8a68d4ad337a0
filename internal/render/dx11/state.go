package dx11

const (
	// D3D11_VIEWPORT_AND_SCISSORRECT_OBJECT_COUNT_PER_PIPELINE
	maxViewports = 16
	// Class instances saved per shader stage.
	maxClassInstances = 256
)

// Viewport matches D3D11_VIEWPORT.
type Viewport struct {
	TopLeftX, TopLeftY float32
	Width, Height      float32
	MinDepth, MaxDepth float32
}

// ScissorRect matches D3D11_RECT.
type ScissorRect struct {
	Left, Top, Right, Bottom int32
}

// State is every piece of device-context state the overlay overwrites. Object
// fields are interface pointers holding a reference taken by the capture; the
// struct is comparable so a restore can be verified by capturing again.
type State struct {
	ScissorCount  uint32
	ViewportCount uint32
	Scissors      [maxViewports]ScissorRect
	Viewports     [maxViewports]Viewport

	RasterizerState   uintptr
	BlendState        uintptr
	BlendFactor       [4]float32
	SampleMask        uint32
	DepthStencilState uintptr
	StencilRef        uint32

	RenderTarget uintptr
	DepthStencil uintptr

	PSShaderResource uintptr
	PSSampler        uintptr
	PixelShader      uintptr
	VertexShader     uintptr
	GeometryShader   uintptr
	VSConstantBuffer uintptr

	PSInstanceCount uint32
	VSInstanceCount uint32
	GSInstanceCount uint32
	PSInstances     [maxClassInstances]uintptr
	VSInstances     [maxClassInstances]uintptr
	GSInstances     [maxClassInstances]uintptr

	PrimitiveTopology uint32
	InputLayout       uintptr
	IndexBuffer       uintptr
	IndexFormat       uint32
	IndexOffset       uint32
	VertexBuffer      uintptr
	VertexStride      uint32
	VertexOffset      uint32
}

// Objects lists every interface pointer in s, for reference bookkeeping.
func (s *State) Objects() []uintptr {
	out := []uintptr{
		s.RasterizerState, s.BlendState, s.DepthStencilState,
		s.RenderTarget, s.DepthStencil,
		s.PSShaderResource, s.PSSampler,
		s.PixelShader, s.VertexShader, s.GeometryShader,
		s.VSConstantBuffer, s.InputLayout, s.IndexBuffer, s.VertexBuffer,
	}
	out = append(out, s.PSInstances[:min(s.PSInstanceCount, maxClassInstances)]...)
	out = append(out, s.VSInstances[:min(s.VSInstanceCount, maxClassInstances)]...)
	out = append(out, s.GSInstances[:min(s.GSInstanceCount, maxClassInstances)]...)
	return out
}
