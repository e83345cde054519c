package busobject

// introspectXML is the fixed introspection document for the bus
// object itself. Unlike an ordinary service, the bus object's
// interface shape never changes at runtime, so there is no need for
// the encode-side walk a real exported-object tree would require; the
// document is just written out once, by hand, in the same shape the
// teacher's decode-side ObjectDescription expects to parse.
const introspectXML = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <interface name="org.freedesktop.DBus">
    <method name="Hello">
      <arg type="s" direction="out"/>
    </method>
    <method name="RequestName">
      <arg type="s" direction="in"/>
      <arg type="u" direction="in"/>
      <arg type="u" direction="out"/>
    </method>
    <method name="ReleaseName">
      <arg type="s" direction="in"/>
      <arg type="u" direction="out"/>
    </method>
    <method name="GetNameOwner">
      <arg type="s" direction="in"/>
      <arg type="s" direction="out"/>
    </method>
    <method name="ListNames">
      <arg type="as" direction="out"/>
    </method>
    <method name="ListActivatableNames">
      <arg type="as" direction="out"/>
    </method>
    <method name="NameHasOwner">
      <arg type="s" direction="in"/>
      <arg type="b" direction="out"/>
    </method>
    <method name="AddMatch">
      <arg type="s" direction="in"/>
    </method>
    <method name="RemoveMatch">
      <arg type="s" direction="in"/>
    </method>
    <method name="GetId">
      <arg type="s" direction="out"/>
    </method>
    <signal name="NameOwnerChanged">
      <arg type="s"/>
      <arg type="s"/>
      <arg type="s"/>
    </signal>
    <signal name="NameAcquired">
      <arg type="s"/>
    </signal>
    <signal name="NameLost">
      <arg type="s"/>
    </signal>
  </interface>
  <interface name="org.freedesktop.DBus.Introspectable">
    <method name="Introspect">
      <arg type="s" direction="out"/>
    </method>
  </interface>
  <interface name="org.freedesktop.DBus.Peer">
    <method name="Ping"/>
    <method name="GetMachineId">
      <arg type="s" direction="out"/>
    </method>
  </interface>
  <interface name="org.freedesktop.DBus.Properties">
    <method name="Get">
      <arg type="s" direction="in"/>
      <arg type="s" direction="in"/>
      <arg type="v" direction="out"/>
    </method>
    <method name="GetAll">
      <arg type="s" direction="in"/>
      <arg type="a{sv}" direction="out"/>
    </method>
  </interface>
</node>
`
