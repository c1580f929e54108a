//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>

int checkMediaPermission(int video) {
    AVMediaType media = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:media];
    return (int)status;
}

void requestMediaPermission(int video) {
    AVMediaType media = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    [AVCaptureDevice requestAccessForMediaType:media completionHandler:^(BOOL granted) {}];
}
*/
import "C"

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

type avChecker struct{}

// System returns the AVFoundation-backed checker.
func System() Checker {
	return avChecker{}
}

func (avChecker) Granted(k Kind) bool {
	return status(k) == PermissionAuthorized
}

func status(k Kind) int {
	video := C.int(0)
	if k == Camera {
		video = 1
	}
	return int(C.checkMediaPermission(video))
}

// Prompt triggers the system permission dialog for k if the user has not
// answered it yet. The answer arrives asynchronously; callers re-check later.
func Prompt(k Kind) {
	if status(k) != PermissionNotDetermined {
		return
	}
	video := C.int(0)
	if k == Camera {
		video = 1
	}
	C.requestMediaPermission(video)
}
