//go:build windows

package winapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// IUnknown vtable indices.
const (
	VtblQueryInterface = 0
	VtblAddRef         = 1
	VtblRelease        = 2
)

// HRESULT is a failed COM result.
type HRESULT uint32

func (hr HRESULT) Error() string {
	return fmt.Sprintf("HRESULT 0x%08X: %s", uint32(hr), ole.NewError(uintptr(hr)).String())
}

// Failed reports whether r, taken as an HRESULT, is a failure code.
func Failed(r uintptr) bool { return int32(r) < 0 }

// VTableEntry returns the function at index idx of obj's vtable.
func VTableEntry(obj uintptr, idx int) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*ptrSize))
}

// Call invokes the vtable method at idx on obj and converts a failed HRESULT
// into an error naming op.
func Call(op string, obj uintptr, idx int, args ...uintptr) error {
	ret := CallRaw(obj, idx, args...)
	if Failed(ret) {
		return fmt.Errorf("%s: %w", op, HRESULT(ret))
	}
	return nil
}

// CallRaw invokes the vtable method at idx on obj and returns its raw
// result. Used for void and non-HRESULT methods.
func CallRaw(obj uintptr, idx int, args ...uintptr) uintptr {
	all := make([]uintptr, 0, 1+len(args))
	all = append(all, obj)
	all = append(all, args...)
	ret, _, _ := syscall.SyscallN(VTableEntry(obj, idx), all...)
	return ret
}

func unknown(obj uintptr) *ole.IUnknown {
	return (*ole.IUnknown)(unsafe.Pointer(obj))
}

// AddRef adds a reference to a non-nil COM object.
func AddRef(obj uintptr) {
	if obj != 0 {
		unknown(obj).AddRef()
	}
}

// Release drops a reference to a non-nil COM object.
func Release(obj uintptr) {
	if obj != 0 {
		unknown(obj).Release()
	}
}

// ReleaseAll releases each non-nil object.
func ReleaseAll(objs ...uintptr) {
	for _, o := range objs {
		Release(o)
	}
}

// QueryInterface returns obj's iid interface with a reference the caller
// owns.
func QueryInterface(obj uintptr, iid *ole.GUID) (uintptr, error) {
	var out uintptr
	if err := Call("QueryInterface", obj, VtblQueryInterface, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out))); err != nil {
		return 0, err
	}
	return out, nil
}

// Blob vtable indices (ID3DBlob / ID3D10Blob).
const (
	blobGetBufferPointer = 3
	blobGetBufferSize    = 4
)

// BlobBytes returns a view of an ID3DBlob's contents, valid until the blob
// is released.
func BlobBytes(blob uintptr) []byte {
	if blob == 0 {
		return nil
	}
	p := CallRaw(blob, blobGetBufferPointer)
	n := CallRaw(blob, blobGetBufferSize)
	if p == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}
