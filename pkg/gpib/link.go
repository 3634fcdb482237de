package gpib

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/gotmc/prologix/driver/vcp"

	"gpib-load-bridge/pkg/config"
	bridgeerrors "gpib-load-bridge/pkg/errors"
	"gpib-load-bridge/pkg/logger"
)

// DialTCP opens the socket of a Prologix GPIB-ETHERNET controller
func DialTCP(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, bridgeerrors.NewBusError("dial", err, "tcp://"+addr)
	}
	return conn, nil
}

// OpenSerial opens the virtual COM port of a Prologix GPIB-USB controller
func OpenSerial(port string) (io.ReadWriteCloser, error) {
	link, err := vcp.NewVCP(port)
	if err != nil {
		return nil, bridgeerrors.NewBusError("open", err, "serial://"+port)
	}
	return link, nil
}

// Open connects to the controller described by settings and initialises it.
// The returned closer releases the underlying link.
func Open(ctx context.Context, settings config.BusSettings, mqttCfg *config.MQTTConfig) (*Prologix, io.Closer, error) {
	var (
		link io.ReadWriteCloser
		name string
	)

	switch settings.Kind {
	case config.BusKindTCP:
		conn, err := DialTCP(ctx, settings.Host, settings.Port)
		if err != nil {
			return nil, nil, err
		}
		link, name = conn, "tcp://"+conn.RemoteAddr().String()

	case config.BusKindSerial:
		port, err := OpenSerial(settings.SerialPort)
		if err != nil {
			return nil, nil, err
		}
		link, name = port, "serial://"+settings.SerialPort

	case config.BusKindMQTT:
		mqttLink := NewMQTTLink(mqttCfg, settings.CmdTopic, settings.DataTopic)
		if err := mqttLink.Connect(ctx); err != nil {
			return nil, nil, err
		}
		link, name = mqttLink, mqttLink.String()

	default:
		return nil, nil, bridgeerrors.NewConfigError("open bus", fmt.Errorf("unknown kind %q", settings.Kind), "bus.kind")
	}

	controller := NewPrologix(link, PrologixOptions{Link: name, ReadTimeout: settings.ReadTimeout})
	if err := controller.Init(ctx); err != nil {
		link.Close()
		return nil, nil, err
	}

	logger.LogInfo("GPIB bus ready on %s", name)
	return controller, link, nil
}
