//go:build windows

package opengl3

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/go-gl/gl/v3.2-core/gl"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

var (
	opengl32                 = windows.NewLazySystemDLL("opengl32.dll")
	procWglGetCurrentContext = opengl32.NewProc("wglGetCurrentContext")
)

const vertexShader = `#version 150
uniform mat4 ProjMtx;
in vec2 Position;
in vec2 UV;
in vec4 Color;
out vec2 Frag_UV;
out vec4 Frag_Color;
void main() {
	Frag_UV = UV;
	Frag_Color = Color;
	gl_Position = ProjMtx * vec4(Position.xy, 0, 1);
}
`

const fragmentShader = `#version 150
uniform sampler2D Texture;
in vec2 Frag_UV;
in vec4 Frag_Color;
out vec4 Out_Color;
void main() {
	Out_Color = Frag_Color * texture(Texture, Frag_UV.st);
}
`

func currentContext() uintptr {
	hglrc, _, _ := procWglGetCurrentContext.Call()
	return hglrc
}

// Open loads the GL 3.2 core entry points for the context current on the
// calling thread, which must be the one in t.
func Open(t render.Target) (GL, error) {
	if cur := currentContext(); cur != t.Context {
		return nil, fmt.Errorf("context %#x is not current", t.Context)
	}
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("load GL functions: %w", err)
	}
	var major, minor int32
	gl.GetIntegerv(gl.MAJOR_VERSION, &major)
	gl.GetIntegerv(gl.MINOR_VERSION, &minor)
	if major < 3 || major == 3 && minor < 2 {
		return nil, fmt.Errorf("%w: GL %d.%d", render.ErrDeviceIncompatible, major, minor)
	}
	log.Debug("gl loaded", "version", gl.GoStr(gl.GetString(gl.VERSION)), "renderer", gl.GoStr(gl.GetString(gl.RENDERER)))
	return context{}, nil
}

// context issues calls against whatever context is current.
type context struct{}

func (context) Current() uintptr { return currentContext() }

// Surface sizes the frame from the client area of the DC's window, falling
// back to the viewport for DCs without one.
func (context) Surface(dc uintptr) (render.Surface, error) {
	hwnd := winapi.WindowFromDC(dc)
	if hwnd != 0 {
		w, h, err := winapi.ClientSize(hwnd)
		if err != nil {
			return render.Surface{}, err
		}
		return render.Surface{Size: render.Size{Width: uint32(max(w, 0)), Height: uint32(max(h, 0))}, Window: hwnd}, nil
	}
	var vp [4]int32
	gl.GetIntegerv(gl.VIEWPORT, &vp[0])
	return render.Surface{Size: render.Size{Width: uint32(max(vp[2], 0)), Height: uint32(max(vp[3], 0))}}, nil
}

func getUint(pname uint32) uint32 {
	var v int32
	gl.GetIntegerv(pname, &v)
	return uint32(v)
}

func getInt(pname uint32) int32 {
	var v int32
	gl.GetIntegerv(pname, &v)
	return v
}

func (context) Capture() State {
	var s State
	s.Program = getUint(gl.CURRENT_PROGRAM)
	s.ActiveTexture = getUint(gl.ACTIVE_TEXTURE)
	gl.ActiveTexture(gl.TEXTURE0)
	s.Texture = getUint(gl.TEXTURE_BINDING_2D)
	gl.ActiveTexture(s.ActiveTexture)
	s.ArrayBuffer = getUint(gl.ARRAY_BUFFER_BINDING)
	s.VertexArray = getUint(gl.VERTEX_ARRAY_BINDING)
	s.ElementArrayBuffer = getUint(gl.ELEMENT_ARRAY_BUFFER_BINDING)
	gl.GetIntegerv(gl.POLYGON_MODE, &s.PolygonMode[0])
	gl.GetIntegerv(gl.VIEWPORT, &s.Viewport[0])
	gl.GetIntegerv(gl.SCISSOR_BOX, &s.ScissorBox[0])
	s.BlendSrcRGB = getInt(gl.BLEND_SRC_RGB)
	s.BlendDstRGB = getInt(gl.BLEND_DST_RGB)
	s.BlendSrcAlpha = getInt(gl.BLEND_SRC_ALPHA)
	s.BlendDstAlpha = getInt(gl.BLEND_DST_ALPHA)
	s.BlendEquationRGB = getInt(gl.BLEND_EQUATION_RGB)
	s.BlendEquationAlpha = getInt(gl.BLEND_EQUATION_ALPHA)
	s.Blend = gl.IsEnabled(gl.BLEND)
	s.CullFace = gl.IsEnabled(gl.CULL_FACE)
	s.DepthTest = gl.IsEnabled(gl.DEPTH_TEST)
	s.StencilTest = gl.IsEnabled(gl.STENCIL_TEST)
	s.ScissorTest = gl.IsEnabled(gl.SCISSOR_TEST)
	s.PrimitiveRestart = gl.IsEnabled(gl.PRIMITIVE_RESTART)
	return s
}

func setEnabled(capability uint32, on bool) {
	if on {
		gl.Enable(capability)
	} else {
		gl.Disable(capability)
	}
}

func (context) Restore(s State) {
	gl.UseProgram(s.Program)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, s.Texture)
	gl.ActiveTexture(s.ActiveTexture)
	gl.BindVertexArray(s.VertexArray)
	// The element binding belongs to the vertex array; VAO 0 was never
	// touched.
	if s.VertexArray != 0 {
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, s.ElementArrayBuffer)
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, s.ArrayBuffer)
	gl.BlendEquationSeparate(uint32(s.BlendEquationRGB), uint32(s.BlendEquationAlpha))
	gl.BlendFuncSeparate(uint32(s.BlendSrcRGB), uint32(s.BlendDstRGB), uint32(s.BlendSrcAlpha), uint32(s.BlendDstAlpha))
	setEnabled(gl.BLEND, s.Blend)
	setEnabled(gl.CULL_FACE, s.CullFace)
	setEnabled(gl.DEPTH_TEST, s.DepthTest)
	setEnabled(gl.STENCIL_TEST, s.StencilTest)
	setEnabled(gl.SCISSOR_TEST, s.ScissorTest)
	setEnabled(gl.PRIMITIVE_RESTART, s.PrimitiveRestart)
	gl.PolygonMode(gl.FRONT_AND_BACK, uint32(s.PolygonMode[0]))
	gl.Viewport(s.Viewport[0], s.Viewport[1], s.Viewport[2], s.Viewport[3])
	gl.Scissor(s.ScissorBox[0], s.ScissorBox[1], s.ScissorBox[2], s.ScissorBox[3])
}

type pipeline struct {
	program  uint32
	texture  uint32
	vao      uint32
	vbo, ebo uint32

	projLoc, texLoc int32

	vertices []render.Vertex
	indices  []uint16
}

// CreatePipeline builds the program, atlas texture and vertex array. It runs
// outside a frame, so it puts back every binding it changes.
func (c context) CreatePipeline(atlas *render.Atlas) (Pipeline, error) {
	saved := c.Capture()
	defer c.Restore(saved)

	prog, err := linkProgram()
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		program: prog,
		projLoc: gl.GetUniformLocation(prog, gl.Str("ProjMtx\x00")),
		texLoc:  gl.GetUniformLocation(prog, gl.Str("Texture\x00")),
	}
	p.texture = createTexture(atlas)

	gl.GenVertexArrays(1, &p.vao)
	gl.GenBuffers(1, &p.vbo)
	gl.GenBuffers(1, &p.ebo)
	gl.BindVertexArray(p.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.vbo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, p.ebo)
	attribs := []struct {
		name       string
		size       int32
		typ        uint32
		normalized bool
		offset     uintptr
	}{
		{"Position\x00", 2, gl.FLOAT, false, 0},
		{"UV\x00", 2, gl.FLOAT, false, 8},
		{"Color\x00", 4, gl.UNSIGNED_BYTE, true, 16},
	}
	for _, a := range attribs {
		loc := gl.GetAttribLocation(prog, gl.Str(a.name))
		if loc < 0 {
			p.Release()
			return nil, fmt.Errorf("attribute %s not found", strings.TrimSuffix(a.name, "\x00"))
		}
		gl.EnableVertexAttribArray(uint32(loc))
		gl.VertexAttribPointerWithOffset(uint32(loc), a.size, a.typ, a.normalized, render.VertexSize, a.offset)
	}
	if e := gl.GetError(); e != gl.NO_ERROR {
		p.Release()
		return nil, fmt.Errorf("create pipeline: GL error %#x", e)
	}
	return p, nil
}

func compileShader(src string, typ uint32) (uint32, error) {
	shader := gl.CreateShader(typ)
	csrc, free := gl.Strs(src + "\x00")
	gl.ShaderSource(shader, 1, csrc, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetShaderInfoLog(shader, n, nil, gl.Str(msg))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compile shader: %s", strings.TrimRight(msg, "\x00"))
	}
	return shader, nil
}

func linkProgram() (uint32, error) {
	vs, err := compileShader(vertexShader, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(fragmentShader, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fs)

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vs)
	gl.AttachShader(prog, fs)
	gl.LinkProgram(prog)
	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetProgramInfoLog(prog, n, nil, gl.Str(msg))
		gl.DeleteProgram(prog)
		return 0, fmt.Errorf("link program: %s", strings.TrimRight(msg, "\x00"))
	}
	gl.DetachShader(prog, vs)
	gl.DetachShader(prog, fs)
	return prog, nil
}

// createTexture uploads the atlas with tightly packed rows. Pixel unpack
// state is host state too.
func createTexture(atlas *render.Atlas) uint32 {
	unpackBuffer := getUint(gl.PIXEL_UNPACK_BUFFER_BINDING)
	alignment := getInt(gl.UNPACK_ALIGNMENT)
	rowLength := getInt(gl.UNPACK_ROW_LENGTH)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, 0)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)

	var tex uint32
	gl.GenTextures(1, &tex)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(atlas.Width), int32(atlas.Height), 0,
		gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(atlas.Pixels))

	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, rowLength)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, alignment)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, unpackBuffer)
	return tex
}

// Upload concatenates every list into the overlay's buffers, orphaning the
// previous frame's storage.
func (p *pipeline) Upload(dd *render.DrawData) error {
	p.vertices = p.vertices[:0]
	p.indices = p.indices[:0]
	for i := range dd.Lists {
		p.vertices = append(p.vertices, dd.Lists[i].Vertices...)
		p.indices = append(p.indices, dd.Lists[i].Indices...)
	}
	if len(p.vertices) == 0 || len(p.indices) == 0 {
		return nil
	}
	gl.BindVertexArray(p.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(p.vertices)*render.VertexSize, unsafe.Pointer(&p.vertices[0]), gl.STREAM_DRAW)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(p.indices)*2, unsafe.Pointer(&p.indices[0]), gl.STREAM_DRAW)
	if e := gl.GetError(); e != gl.NO_ERROR {
		if e == gl.OUT_OF_MEMORY {
			return fmt.Errorf("%w: buffer data", render.ErrResourceAllocation)
		}
		return fmt.Errorf("buffer data: GL error %#x", e)
	}
	return nil
}

func (p *pipeline) Release() {
	if p.vao != 0 {
		gl.DeleteVertexArrays(1, &p.vao)
	}
	for _, b := range []*uint32{&p.vbo, &p.ebo} {
		if *b != 0 {
			gl.DeleteBuffers(1, b)
		}
	}
	if p.texture != 0 {
		gl.DeleteTextures(1, &p.texture)
	}
	if p.program != 0 {
		gl.DeleteProgram(p.program)
	}
	*p = pipeline{}
}

func (context) Setup(pl Pipeline, size render.Size, proj [16]float32) {
	p := pl.(*pipeline)
	gl.Enable(gl.BLEND)
	gl.BlendEquation(gl.FUNC_ADD)
	gl.BlendFuncSeparate(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA, gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
	gl.Disable(gl.CULL_FACE)
	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.STENCIL_TEST)
	gl.Disable(gl.PRIMITIVE_RESTART)
	gl.Enable(gl.SCISSOR_TEST)
	gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
	gl.Viewport(0, 0, int32(size.Width), int32(size.Height))

	gl.UseProgram(p.program)
	gl.Uniform1i(p.texLoc, 0)
	gl.UniformMatrix4fv(p.projLoc, 1, false, &proj[0])
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, p.texture)
	gl.BindVertexArray(p.vao)
}

func (context) Scissor(x, y, w, h int32) { gl.Scissor(x, y, w, h) }

func (context) DrawIndexed(count, startIndex uint32, baseVertex int32) {
	gl.DrawElementsBaseVertexWithOffset(gl.TRIANGLES, int32(count), gl.UNSIGNED_SHORT, uintptr(startIndex)*2, baseVertex)
}
