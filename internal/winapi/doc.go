// Package winapi holds the Win32 and COM plumbing shared by the graphics
// backends: raw vtable calls, DXGI structures, throwaway windows used to
// create dummy devices, and module lookups.
package winapi
